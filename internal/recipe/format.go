package recipe

import (
	"fmt"
	"strings"
)

// Format renders a recipe as plain text suitable for notes apps and
// share sheets. sourceURL is appended as a link when set.
func Format(r *Recipe, sourceURL string) string {
	if r == nil {
		return ""
	}
	var b strings.Builder

	title := r.Title
	if title == "" {
		title = "Untitled recipe"
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	if r.Category != "" {
		fmt.Fprintf(&b, "#%s\n\n", r.Category)
	}

	meta := make([]string, 0, 5)
	if r.PrepTime != "" {
		meta = append(meta, "Prep: "+r.PrepTime)
	}
	if r.CookTime != "" {
		meta = append(meta, "Cook: "+r.CookTime)
	}
	if r.TotalTime != "" {
		meta = append(meta, "Total: "+r.TotalTime)
	}
	if r.Servings != "" {
		meta = append(meta, "Servings: "+r.Servings)
	}
	if r.Difficulty != "" {
		meta = append(meta, "Difficulty: "+r.Difficulty)
	}
	if len(meta) > 0 {
		b.WriteString(strings.Join(meta, "\n"))
		b.WriteString("\n\n")
	}

	if len(r.Ingredients) > 0 {
		b.WriteString("Ingredients:\n")
		if r.Servings != "" {
			fmt.Fprintf(&b, "(for %s)\n", r.Servings)
		}
		for _, ing := range r.Ingredients {
			fmt.Fprintf(&b, "  - %s\n", ing)
		}
		b.WriteString("\n")
	}

	if len(r.Steps) > 0 {
		b.WriteString("Steps:\n")
		for i, step := range r.Steps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
		b.WriteString("\n")
	}

	if len(r.Tips) > 0 {
		b.WriteString("Tips:\n")
		for _, tip := range r.Tips {
			fmt.Fprintf(&b, "  - %s\n", tip)
		}
		b.WriteString("\n")
	}

	if sourceURL != "" {
		fmt.Fprintf(&b, "Link: %s\n", sourceURL)
	}

	return strings.TrimRight(b.String(), "\n")
}
