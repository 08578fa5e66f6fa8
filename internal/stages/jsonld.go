package stages

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

type pageData struct {
	title  string
	text   string
	recipe *recipe.Recipe
}

// skipText lists elements whose text is never part of the readable page.
var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Form:     true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

func parsePage(doc *html.Node, maxText int) pageData {
	var (
		p       pageData
		ogTitle string
		text    strings.Builder
		walk    func(n *html.Node, visible bool)
	)

	walk = func(n *html.Node, visible bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if p.title == "" && n.FirstChild != nil {
					p.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				if attr(n, "property") == "og:title" {
					ogTitle = strings.TrimSpace(attr(n, "content"))
				}
			case atom.Script:
				if p.recipe == nil && strings.EqualFold(attr(n, "type"), "application/ld+json") && n.FirstChild != nil {
					p.recipe = recipeFromJSONLD(n.FirstChild.Data)
				}
			}
			if skipText[n.DataAtom] {
				visible = false
			}
		}
		if n.Type == html.TextNode && visible && text.Len() < maxText {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				text.WriteString(t)
				text.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, visible)
		}
	}
	walk(doc, true)

	if ogTitle != "" {
		p.title = ogTitle
	}
	p.text = text.String()
	if len(p.text) > maxText {
		p.text = p.text[:maxText]
	}
	return p
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// recipeFromJSONLD finds the first schema.org Recipe in a JSON-LD block,
// looking through top-level arrays and @graph containers.
func recipeFromJSONLD(raw string) *recipe.Recipe {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return nil
	}
	node := findRecipeNode(v)
	if node == nil {
		return nil
	}

	r := &recipe.Recipe{
		Title:       str(node["name"]),
		Category:    first(strList(node["recipeCategory"])),
		Ingredients: strList(node["recipeIngredient"]),
		Steps:       instructions(node["recipeInstructions"]),
		PrepTime:    humanDuration(str(node["prepTime"])),
		CookTime:    humanDuration(str(node["cookTime"])),
		TotalTime:   humanDuration(str(node["totalTime"])),
		Servings:    first(strList(node["recipeYield"])),
	}
	if len(r.Ingredients) == 0 {
		r.Ingredients = strList(node["ingredients"])
	}
	r.Normalize()
	return r
}

func findRecipeNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := findRecipeNode(item); n != nil {
				return n
			}
		}
	case map[string]any:
		if isRecipeType(t["@type"]) {
			return t
		}
		if g, ok := t["@graph"]; ok {
			return findRecipeNode(g)
		}
	}
	return nil
}

func isRecipeType(v any) bool {
	for _, s := range strList(v) {
		if strings.EqualFold(s, "Recipe") {
			return true
		}
	}
	return false
}

// instructions flattens the shapes recipeInstructions takes in the wild:
// a single string, a list of strings, HowToStep objects and HowToSection
// objects wrapping steps.
func instructions(v any) []string {
	switch t := v.(type) {
	case string:
		return recipe.SplitInstructions(html.UnescapeString(t))
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, instructions(item)...)
		}
		return out
	case map[string]any:
		if items, ok := t["itemListElement"]; ok {
			return instructions(items)
		}
		if s := str(t["text"]); s != "" {
			return []string{html.UnescapeString(s)}
		}
		if s := str(t["name"]); s != "" {
			return []string{s}
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) > 0 {
			return str(t[0])
		}
	}
	return ""
}

func strList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := str(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// humanDuration turns an ISO 8601 duration such as PT1H30M into "1 h 30 min".
// Values that do not parse are returned unchanged.
func humanDuration(s string) string {
	m := isoDuration.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return s
	}
	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	mins, _ := strconv.Atoi(m[3])
	hours += days * 24
	switch {
	case hours > 0 && mins > 0:
		return fmt.Sprintf("%d h %d min", hours, mins)
	case hours > 0:
		return fmt.Sprintf("%d h", hours)
	case mins > 0:
		return fmt.Sprintf("%d min", mins)
	}
	return ""
}
