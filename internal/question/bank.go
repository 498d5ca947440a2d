package question

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/victornm/duelquiz/internal/domain"
	"github.com/victornm/duelquiz/internal/errors"
)

// Bank is a read-only collection of trivia questions.
type Bank struct {
	questions []domain.Question

	mu  sync.Mutex
	rnd *rand.Rand
}

type Option func(b *Bank)

// WithRand makes sampling deterministic, for tests.
func WithRand(r *rand.Rand) Option {
	return func(b *Bank) { b.rnd = r }
}

// NewBank creates a bank holding a private copy of qs. Invalid questions are dropped.
func NewBank(qs []domain.Question, opts ...Option) *Bank {
	b := &Bank{
		questions: make([]domain.Question, 0, len(qs)),
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for i, q := range qs {
		if err := validate(q); err != nil {
			slog.Warn("question: skip invalid question", "position", i, "error", err)
			continue
		}
		b.questions = append(b.questions, q.Clone())
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Load reads a question file. The file is either a list of questions or a mapping with a
// "questions" list; JSON files are accepted as they are valid YAML.
func Load(path string, opts ...Option) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse question file %s: %w", path, err)
	}

	var qs []domain.Question
	if len(root.Content) > 0 {
		switch doc := root.Content[0]; doc.Kind {
		case yaml.SequenceNode:
			err = doc.Decode(&qs)
		case yaml.MappingNode:
			var wrapped struct {
				Questions []domain.Question `yaml:"questions"`
			}
			err = doc.Decode(&wrapped)
			qs = wrapped.Questions
		default:
			err = fmt.Errorf("unexpected document kind %d", doc.Kind)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode question file %s: %w", path, err)
	}

	b := NewBank(qs, opts...)
	slog.InfoContext(context.Background(), "question: bank loaded", "file", path, "questions", len(b.questions))
	return b, nil
}

func validate(q domain.Question) error {
	switch {
	case strings.TrimSpace(q.Text) == "":
		return fmt.Errorf("empty question text")
	case len(q.Options) < 2:
		return fmt.Errorf("question %q has %d options", q.Text, len(q.Options))
	case !slices.Contains(q.Options, q.CorrectAnswer):
		return fmt.Errorf("question %q: correct answer is not one of the options", q.Text)
	}
	return nil
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int {
	return len(b.questions)
}

// Count returns how many questions match category and difficulty.
func (b *Bank) Count(category, difficulty string) int {
	return len(b.filter(category, difficulty))
}

// Sample picks n distinct questions of the given category and difficulty in random order.
// The returned questions are copies.
func (b *Bank) Sample(category, difficulty string, n int) ([]domain.Question, error) {
	idx := b.filter(category, difficulty)
	if len(idx) < n {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("not enough questions: category=%s difficulty=%s have=%d want=%d", category, difficulty, len(idx), n),
		)
	}

	b.mu.Lock()
	// Partial Fisher-Yates: the first n positions end up a uniform sample without replacement.
	for i := 0; i < n; i++ {
		j := i + b.rnd.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	b.mu.Unlock()

	out := make([]domain.Question, 0, n)
	for _, i := range idx[:n] {
		out = append(out, b.questions[i].Clone())
	}

	return out, nil
}

func (b *Bank) filter(category, difficulty string) []int {
	var idx []int
	for i, q := range b.questions {
		if strings.EqualFold(q.Category, category) && strings.EqualFold(q.Difficulty, difficulty) {
			idx = append(idx, i)
		}
	}
	return idx
}
