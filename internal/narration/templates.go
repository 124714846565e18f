package narration

import (
	"fmt"
	"strings"

	"github.com/briefcast/api/internal/model"
)

// Template holds the four text-producing rules of a narration style.
type Template struct {
	Intro      func(title string, itemCount int) string
	Segment    func(item model.ContentItem, index int) string
	Transition func(from, to string) string
	Conclusion func(title string) string
}

var templates = map[model.TemplateKind]Template{
	model.TemplateNewsDigest: {
		Intro: func(title string, n int) string {
			return fmt.Sprintf("Welcome to %s. Here are today's %s.", title, plural(n, "top story", "top stories"))
		},
		Segment: func(item model.ContentItem, _ int) string {
			return joinSentences(item.Title, item.Summary, sourceLine(item))
		},
		Transition: func(_, to string) string {
			return fmt.Sprintf("Moving on to %s.", topicLabel(to))
		},
		Conclusion: func(title string) string {
			return fmt.Sprintf("That's all for this edition of %s. Thanks for listening.", title)
		},
	},
	model.TemplateDailyBriefing: {
		Intro: func(title string, n int) string {
			return fmt.Sprintf("Good morning. This is %s, your daily briefing with %s.", title, plural(n, "item", "items"))
		},
		Segment: func(item model.ContentItem, _ int) string {
			return joinSentences(item.Title, item.Summary)
		},
		Transition: func(_, to string) string {
			return fmt.Sprintf("Next, %s.", topicLabel(to))
		},
		Conclusion: func(string) string {
			return "That's your briefing for today. Have a great day."
		},
	},
	model.TemplateWeeklyRoundup: {
		Intro: func(title string, n int) string {
			return fmt.Sprintf("This is %s, the weekly roundup. We're covering %s from the past seven days.", title, plural(n, "story", "stories"))
		},
		Segment: func(item model.ContentItem, index int) string {
			return joinSentences(fmt.Sprintf("Number %d: %s", index+1, item.Title), item.Summary, sourceLine(item))
		},
		Transition: func(from, to string) string {
			return fmt.Sprintf("That wraps up %s. Let's turn to %s.", topicLabel(from), topicLabel(to))
		},
		Conclusion: func(title string) string {
			return fmt.Sprintf("That's the week on %s. See you next week.", title)
		},
	},
	model.TemplateDeepDive: {
		Intro: func(title string, _ int) string {
			return fmt.Sprintf("Welcome to %s. Today we take a closer look at the details.", title)
		},
		Segment: func(item model.ContentItem, _ int) string {
			return joinSentences(fmt.Sprintf("Let's start with %s", item.Title), item.Summary, sourceLine(item))
		},
		Transition: func(_, to string) string {
			return fmt.Sprintf("Now let's shift our focus to %s.", topicLabel(to))
		},
		Conclusion: func(title string) string {
			return fmt.Sprintf("That concludes this deep dive from %s.", title)
		},
	},
}

// Lookup returns the template for kind. An empty kind resolves to the news
// digest.
func Lookup(kind model.TemplateKind) (Template, error) {
	if kind == "" {
		kind = model.TemplateNewsDigest
	}
	tpl, ok := templates[kind]
	if !ok {
		return Template{}, fmt.Errorf("unknown template kind %q", kind)
	}
	return tpl, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func topicLabel(topic string) string {
	if topic == "" {
		return "other news"
	}
	return strings.ToLower(topic)
}

func sourceLine(item model.ContentItem) string {
	if item.SourceName == "" {
		return ""
	}
	return "This story comes from " + item.SourceName
}

// joinSentences terminates each non-empty part with a period where it lacks
// terminal punctuation and joins them with single spaces.
func joinSentences(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p[len(p)-1:], ".!?") {
			p += "."
		}
		out = append(out, p)
	}
	return strings.Join(out, " ")
}
