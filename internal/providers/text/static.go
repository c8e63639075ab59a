package text

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const providerStatic = "static"

// Static writes a deterministic recipe from the "- " ingredient lines of the
// prompt. It lets the whole pipeline run without model credentials.
type Static struct {
	// Delay is inserted before every chunk to mimic a model streaming.
	Delay time.Duration
	// Tag fixes the output language. language.Und follows the prompt.
	Tag language.Tag
}

func NewStatic(tag language.Tag) *Static {
	return &Static{Tag: tag}
}

func (s *Static) Name() string { return providerStatic }

func (s *Static) Stream(ctx context.Context, prompt string) (Stream, error) {
	return &staticStream{ctx: ctx, chunks: s.compose(prompt), delay: s.Delay}, nil
}

func (s *Static) compose(prompt string) []string {
	var ingredients []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			ingredients = append(ingredients, strings.TrimSpace(strings.TrimPrefix(line, "- ")))
		}
	}
	if len(ingredients) == 0 {
		ingredients = []string{"ingredients"}
	}
	tag := s.Tag
	if tag == language.Und {
		tag = promptLanguage(prompt)
	}
	title := cases.Title(tag).String(strings.Join(ingredients, ", "))
	spanish := tag != language.English

	chunks := []string{}
	if spanish {
		chunks = append(chunks, fmt.Sprintf("Receta: %s\n\n", title), "Ingredientes:\n")
	} else {
		chunks = append(chunks, fmt.Sprintf("Recipe: %s\n\n", title), "Ingredients:\n")
	}
	for _, item := range ingredients {
		chunks = append(chunks, "- "+item+"\n")
	}
	if spanish {
		chunks = append(chunks,
			"\nPasos:\n",
			"1. Prepara y lava todos los ingredientes.\n",
			"2. Cocina a fuego medio hasta que esté listo.\n",
			"3. Sirve caliente.\n",
		)
	} else {
		chunks = append(chunks,
			"\nSteps:\n",
			"1. Prepare and wash all the ingredients.\n",
			"2. Cook over medium heat until done.\n",
			"3. Serve warm.\n",
		)
	}
	return chunks
}

// promptLanguage guesses the prompt's language from its ingredients heading.
func promptLanguage(prompt string) language.Tag {
	if strings.Contains(prompt, "Ingredients:") {
		return language.English
	}
	return language.Spanish
}

type staticStream struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
	pos    int
}

func (s *staticStream) Next() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.delay):
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *staticStream) Close() error { return nil }

var _ Generator = (*Static)(nil)
