// Package narration turns briefs into narration text and splits that text
// into provider-sized chunks. Everything here is pure.
package narration

import (
	"strings"

	"github.com/briefcast/api/internal/model"
)

// Compile produces the narration script for a brief. An override text wins
// over the template and is only normalized; otherwise items are grouped by
// topic in order of first appearance and rendered through the brief's
// template.
func Compile(brief *model.ContentBrief, items []model.ContentItem) (string, error) {
	if brief.HasOverride() {
		return Normalize(brief.OverrideText), nil
	}

	tpl, err := Lookup(brief.TemplateKind)
	if err != nil {
		return "", err
	}

	parts := []string{tpl.Intro(brief.Title, len(items))}

	index := 0
	prev := ""
	for i, group := range groupByTopic(items) {
		if i > 0 {
			parts = append(parts, tpl.Transition(prev, group.topic))
		}
		for _, item := range group.items {
			if seg := tpl.Segment(item, index); seg != "" {
				parts = append(parts, seg)
			}
			index++
		}
		prev = group.topic
	}

	parts = append(parts, tpl.Conclusion(brief.Title))
	return strings.Join(parts, "\n\n"), nil
}

type topicGroup struct {
	topic string
	items []model.ContentItem
}

func groupByTopic(items []model.ContentItem) []topicGroup {
	var groups []topicGroup
	pos := make(map[string]int)
	for _, item := range items {
		key := strings.TrimSpace(item.Topic)
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, topicGroup{topic: key})
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}
