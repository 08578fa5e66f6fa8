package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/llm"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

// Completer is the slice of the LLM client the extractor needs.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (*llm.Completion, error)
}

// LLMExtractor structures recipes with a language model. Pages that
// already carry a complete recipe are normalized locally.
type LLMExtractor struct {
	llm      Completer
	language language.Tag
	timeout  time.Duration
}

func NewLLMExtractor(c Completer, lang language.Tag, timeout time.Duration) *LLMExtractor {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &LLMExtractor{llm: c, language: lang, timeout: timeout}
}

// llmRecipe accepts the loose shapes models produce: numbers for servings,
// a single string where a list is expected, and so on.
type llmRecipe struct {
	Title       any `json:"title"`
	Category    any `json:"category"`
	Ingredients any `json:"ingredients"`
	Steps       any `json:"steps"`
	PrepTime    any `json:"prep_time"`
	CookTime    any `json:"cook_time"`
	TotalTime   any `json:"total_time"`
	Servings    any `json:"servings"`
	Difficulty  any `json:"difficulty"`
	Tips        any `json:"tips"`
}

func (l llmRecipe) toRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Title:       str(l.Title),
		Category:    str(l.Category),
		Ingredients: ingredientList(l.Ingredients),
		Steps:       instructions(l.Steps),
		PrepTime:    str(l.PrepTime),
		CookTime:    str(l.CookTime),
		TotalTime:   str(l.TotalTime),
		Servings:    str(l.Servings),
		Difficulty:  str(l.Difficulty),
		Tips:        strList(l.Tips),
	}
}

// ingredientList also accepts {"name": "...", "quantity": "..."} objects.
func ingredientList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return strList(v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			if s := str(item); s != "" {
				out = append(out, s)
			}
			continue
		}
		name := str(obj["name"])
		if name == "" {
			name = str(obj["ingredient"])
		}
		qty := str(obj["quantity"])
		if unit := str(obj["unit"]); unit != "" {
			qty = strings.TrimSpace(qty + " " + unit)
		}
		if s := strings.TrimSpace(qty + " " + name); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *LLMExtractor) Structure(ctx context.Context, content *RawContent) (*recipe.Recipe, error) {
	if content == nil {
		return nil, common.NewStageError(common.KindInternal, "nothing to extract from", nil)
	}
	if s := content.Structured; s != nil {
		if local := completeLocally(s, content.Title); local != nil {
			slog.Info("recipe structured from page data", "url", content.SourceURL, "title", local.Title)
			return local, nil
		}
	}
	if strings.TrimSpace(content.Text) == "" && content.Structured == nil {
		return nil, common.NewStageError(common.KindContentUnavailable, "there is no text to extract a recipe from", nil)
	}

	system := e.systemPrompt()
	user := e.userPrompt(content)

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		r, err := e.ask(ctx, system, user)
		if err == nil {
			if content.Structured != nil {
				r.Source = recipe.SourceWebsite
			}
			return r, nil
		}
		if common.KindOf(err) != common.KindMalformedOutput {
			return nil, err
		}
		lastErr = err
		slog.Warn("malformed recipe from LLM", "url", content.SourceURL, "attempt", attempt, "err", err)
		user = e.userPrompt(content) + "\n\nYOUR PREVIOUS ANSWER WAS INVALID (" + err.Error() +
			"). Answer again with ONLY a JSON object containing a non-empty title, ingredients and steps."
	}
	return nil, lastErr
}

func (e *LLMExtractor) ask(ctx context.Context, system, user string) (*recipe.Recipe, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.llm.CompleteJSON(callCtx, system, user)
	if err != nil {
		if cerr := common.FromContext(ctx, callCtx, "recipe extraction"); cerr != nil {
			return nil, cerr
		}
		var se *common.StageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, common.NewStageError(common.KindLLMUnavailable, "language model unavailable", err)
	}

	var lr llmRecipe
	if err := json.Unmarshal([]byte(stripFences(out.Content)), &lr); err != nil {
		return nil, common.NewStageError(common.KindMalformedOutput, "the model did not return valid JSON", err)
	}
	r := lr.toRecipe()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, common.NewStageError(common.KindMalformedOutput, "the model returned an incomplete recipe", err)
	}
	return r, nil
}

// completeLocally returns the page recipe when it already satisfies the
// schema, or nil when the model has to fill gaps.
func completeLocally(s *recipe.Recipe, pageTitle string) *recipe.Recipe {
	r := s.Clone()
	if r.Title == "" {
		r.Title = pageTitle
	}
	r.Normalize()
	if r.Validate() != nil {
		return nil
	}
	r.Source = recipe.SourceWebsite
	return r
}

func (e *LLMExtractor) systemPrompt() string {
	lang := display.English.Tags().Name(e.language)
	return fmt.Sprintf(`You are an expert at extracting cooking recipes from short video transcripts and web pages.

Return ONLY a JSON object with this shape:
{
  "title": "recipe title",
  "category": "one of: starter, main, dessert, drink, snack",
  "ingredients": ["quantity ingredient", "..."],
  "steps": ["step", "..."],
  "prep_time": "optional",
  "cook_time": "optional",
  "servings": "optional",
  "difficulty": "optional: easy, medium or hard",
  "tips": ["optional"]
}

Rules:
- Be very concise.
- Use only information present in the source.
- If a quantity is not mentioned, write only the ingredient.
- Rewrite steps so they are short and clear.
- Write every value in %s.`, lang)
}

func (e *LLMExtractor) userPrompt(c *RawContent) string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, "SOURCE TITLE: %s\n", c.Title)
	}
	if tag := detectLanguage(c.Text); tag != language.Und {
		fmt.Fprintf(&b, "SOURCE LANGUAGE: %s\n", display.English.Tags().Name(tag))
	}
	if c.Structured != nil {
		partial, _ := json.Marshal(c.Structured)
		fmt.Fprintf(&b, "\nPARTIAL RECIPE FOUND ON THE PAGE (complete it):\n%s\n", partial)
	}
	if c.Audio != nil {
		b.WriteString("\nTRANSCRIPT:\n")
	} else {
		b.WriteString("\nPAGE TEXT:\n")
	}
	b.WriteString(c.Text)
	return b.String()
}

// detectLanguage guesses the language of text, or Und when unsure.
func detectLanguage(text string) language.Tag {
	if strings.TrimSpace(text) == "" {
		return language.Und
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return language.Und
	}
	return language.All.Make(info.Lang.Iso6391())
}

// stripFences removes a ```json fence some models wrap their answer in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
