// Package catalog is the static navigation data shown in the portal layout:
// GATE topics for search and the header dropdown menus.
package catalog

import (
	"strings"
)

type Link struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type Menus struct {
	TestSeries []Link `json:"testSeries"`
	Analytics  []Link `json:"analytics"`
}

var topics = []string{
	"Data Structures",
	"Algorithms",
	"Operating Systems",
	"Database Management",
	"Computer Networks",
	"Compiler Design",
	"Theory of Computation",
	"Digital Logic",
}

func Topics() []Link {
	out := make([]Link, 0, len(topics))
	for _, name := range topics {
		out = append(out, topicLink(name))
	}
	return out
}

// Search returns the topics whose name contains query, ignoring case. An
// empty query matches nothing.
func Search(query string) []Link {
	query = strings.ToLower(strings.TrimSpace(query))
	out := []Link{}
	if query == "" {
		return out
	}
	for _, name := range topics {
		if strings.Contains(strings.ToLower(name), query) {
			out = append(out, topicLink(name))
		}
	}
	return out
}

// Topic looks a topic up by slug.
func Topic(slug string) (Link, bool) {
	for _, name := range topics {
		if Slug(name) == strings.ToLower(slug) {
			return topicLink(name), true
		}
	}
	return Link{}, false
}

func Slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func DefaultMenus() Menus {
	return Menus{
		TestSeries: []Link{
			{Label: "Create Test", Href: "/tests/create"},
			{Label: "View Tests", Href: "/tests"},
			{Label: "Mock GATE", Href: "/tests/mock"},
		},
		Analytics: []Link{
			{Label: "Performance Dashboard", Href: "/analytics/dashboard"},
			{Label: "Topic Insights", Href: "/analytics/topics"},
			{Label: "Progress Report", Href: "/analytics/report"},
		},
	}
}

func topicLink(name string) Link {
	return Link{Label: name, Href: "/topics/" + Slug(name)}
}
