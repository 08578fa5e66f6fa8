package recipe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
)

const (
	SourceVideo   = "video"
	SourceWebsite = "website"
)

// Recipe is the structured output every pipeline branch produces.
type Recipe struct {
	Title       string   `json:"title" validate:"required"`
	Category    string   `json:"category,omitempty"`
	Ingredients []string `json:"ingredients" validate:"required,min=1,dive,required"`
	Steps       []string `json:"steps" validate:"required,min=1,dive,required"`
	PrepTime    string   `json:"prep_time,omitempty"`
	CookTime    string   `json:"cook_time,omitempty"`
	TotalTime   string   `json:"total_time,omitempty"`
	Servings    string   `json:"servings,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
	Tips        []string `json:"tips,omitempty"`
	Source      string   `json:"source,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the recipe against the output schema.
func (r *Recipe) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: recipe is nil", common.ErrValidation)
	}
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	joined := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		joined = append(joined, common.ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
		})
	}
	return errors.Join(joined...)
}

// Normalize trims every field and drops empty list entries in place.
func (r *Recipe) Normalize() {
	if r == nil {
		return
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Category = strings.TrimSpace(r.Category)
	r.PrepTime = strings.TrimSpace(r.PrepTime)
	r.CookTime = strings.TrimSpace(r.CookTime)
	r.TotalTime = strings.TrimSpace(r.TotalTime)
	r.Servings = strings.TrimSpace(r.Servings)
	r.Difficulty = strings.ToLower(strings.TrimSpace(r.Difficulty))
	r.Ingredients = cleanList(r.Ingredients)
	r.Steps = cleanList(r.Steps)
	r.Tips = cleanList(r.Tips)
}

// Clone returns a deep copy so snapshots handed to pollers never alias.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	out := *r
	out.Ingredients = append([]string(nil), r.Ingredients...)
	out.Steps = append([]string(nil), r.Steps...)
	out.Tips = append([]string(nil), r.Tips...)
	return &out
}

// SplitInstructions turns a free-text instruction block into steps, one per line.
func SplitInstructions(text string) []string {
	return cleanList(strings.Split(text, "\n"))
}

func cleanList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
