package workflow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"recipes/internal/domain"
)

// maxImageSummary bounds the recipe excerpt embedded in the image prompt.
const maxImageSummary = 1500

var stepHeadings = []string{"pasos", "steps"}

const recipePromptES = `Tarea:
Genera una receta de cocina creativa utilizando únicamente los siguientes ingredientes.

Ingredientes:
%s
Contexto:
- La receta debe ser fácil de seguir y adecuada para cualquier persona.
- No incluyas ingredientes que no estén en la lista proporcionada.
- Si es posible, sugiere una receta tradicional o popular que se adapte a los ingredientes.

Instrucciones:
- Explica los pasos de manera clara y concisa.
- Incluye cantidades aproximadas para cada ingrediente.
- Si algún ingrediente puede sustituirse, indícalo.

Formato de respuesta:
- Utiliza formato de lista para los ingredientes y los pasos.
- Comienza con el nombre de la receta.
- Sé breve y directo.

Ejemplo:
# Receta: <nombre de la receta>
## Ingredientes:
- <ingrediente 1>
- <ingrediente 2>
## Pasos:
1. <paso 1>
2. <paso 2>
`

const recipePromptEN = `Task:
Write a creative cooking recipe that uses only the following ingredients.

Ingredients:
%s
Context:
- The recipe must be easy to follow and suitable for anyone.
- Do not add ingredients that are not in the list.
- When possible, suggest a traditional or popular dish that fits the ingredients.

Instructions:
- Explain the steps clearly and concisely.
- Include approximate quantities for each ingredient.
- Point out any ingredient that can be substituted.

Response format:
- Use lists for the ingredients and the steps.
- Start with the name of the recipe.
- Be brief and direct.

Example:
# Recipe: <recipe name>
## Ingredients:
- <ingredient 1>
- <ingredient 2>
## Steps:
1. <step 1>
2. <step 2>
`

const imagePromptES = `Tarea:
Genera una imagen atractiva y realista del platillo descrito en la siguiente receta.

Receta:
%s

Instrucciones:
- La imagen debe resaltar los ingredientes principales y el estilo de la cocina.
- Evita incluir texto o marcas de agua en la imagen.
- Utiliza colores vibrantes y composición atractiva.
- La imagen debe ser fotorrealista y apetitosa, con fondo neutro o relacionado con la cocina del platillo.
`

const imagePromptEN = `Task:
Create an attractive, realistic picture of the dish described in the following recipe.

Recipe:
%s

Instructions:
- Highlight the main ingredients and the style of the cuisine.
- Do not include text or watermarks.
- Use vibrant colours and an appealing composition.
- The picture must be photorealistic and appetising, on a neutral or cuisine-related background.
`

// RecipePrompt renders the recipe instructions for locale ("en" or Spanish
// for anything else), listing each ingredient on its own "- " line.
func RecipePrompt(ingredients domain.IngredientList, locale string) string {
	var list strings.Builder
	for _, item := range ingredients.Items() {
		list.WriteString("- ")
		list.WriteString(item)
		list.WriteByte('\n')
	}
	tmpl := recipePromptES
	if isEnglish(locale) {
		tmpl = recipePromptEN
	}
	return fmt.Sprintf(tmpl, list.String())
}

// ImagePrompt describes the dish from the part of the recipe that precedes
// its steps heading.
func ImagePrompt(recipe, locale string) string {
	tmpl := imagePromptES
	if isEnglish(locale) {
		tmpl = imagePromptEN
	}
	return fmt.Sprintf(tmpl, RecipeSummary(recipe))
}

// RecipeSummary returns the trimmed text before the first "pasos" or "steps"
// heading, or the whole recipe when neither appears.
func RecipeSummary(recipe string) string {
	cut := len(recipe)
	for _, heading := range stepHeadings {
		if idx := indexFold(recipe, heading); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	summary := strings.TrimSpace(recipe[:cut])
	// Drop a dangling markdown heading marker left by the cut.
	summary = strings.TrimSpace(strings.TrimRight(summary, "#"))
	if summary == "" {
		summary = strings.TrimSpace(recipe)
	}
	if utf8.RuneCountInString(summary) > maxImageSummary {
		summary = string([]rune(summary)[:maxImageSummary])
	}
	return summary
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
func indexFold(s, needle string) int {
	for i := 0; i+len(needle) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func isEnglish(locale string) bool {
	return strings.HasPrefix(strings.ToLower(locale), "en")
}
