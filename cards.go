package main

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

//go:embed assets/cards/prompts.json assets/cards/responses.json
var defaultDecks embed.FS

// PromptCard is the fill-in-the-blank phrase shown to the whole room.
type PromptCard struct {
	Text   string `json:"text"`
	Blanks int    `json:"blanks"`
}

// cardPool owns one room's private decks. Cards are consumed from the tail;
// spent cards go to recycle piles so a long game never runs dry.
type cardPool struct {
	prompts     []PromptCard
	responses   []string
	usedPrompts []PromptCard
	discards    []string
}

func newCardPool(prompts []PromptCard, responses []string) *cardPool {
	p := &cardPool{
		prompts:   append([]PromptCard(nil), prompts...),
		responses: append([]string(nil), responses...),
	}
	p.shuffle()
	return p
}

func (p *cardPool) shuffle() {
	rand.Shuffle(len(p.prompts), func(i, j int) {
		p.prompts[i], p.prompts[j] = p.prompts[j], p.prompts[i]
	})
	rand.Shuffle(len(p.responses), func(i, j int) {
		p.responses[i], p.responses[j] = p.responses[j], p.responses[i]
	})
}

// drawPrompt pops the next prompt card, recycling spent prompts when the
// pile runs out. Returns false only if no prompt exists anywhere.
func (p *cardPool) drawPrompt() (PromptCard, bool) {
	if len(p.prompts) == 0 && len(p.usedPrompts) > 0 {
		p.prompts = p.usedPrompts
		p.usedPrompts = nil
		rand.Shuffle(len(p.prompts), func(i, j int) {
			p.prompts[i], p.prompts[j] = p.prompts[j], p.prompts[i]
		})
	}
	if len(p.prompts) == 0 {
		return PromptCard{}, false
	}
	card := p.prompts[len(p.prompts)-1]
	p.prompts = p.prompts[:len(p.prompts)-1]
	return card, true
}

// drawResponse pops the next response card, recycling the discard pile when
// the pool runs out. Returns false if both are empty; callers tolerate a
// short hand instead of failing the round.
func (p *cardPool) drawResponse() (string, bool) {
	if len(p.responses) == 0 && len(p.discards) > 0 {
		p.responses = p.discards
		p.discards = nil
		rand.Shuffle(len(p.responses), func(i, j int) {
			p.responses[i], p.responses[j] = p.responses[j], p.responses[i]
		})
	}
	if len(p.responses) == 0 {
		return "", false
	}
	card := p.responses[len(p.responses)-1]
	p.responses = p.responses[:len(p.responses)-1]
	return card, true
}

func (p *cardPool) discardPrompt(card PromptCard) {
	p.usedPrompts = append(p.usedPrompts, card)
}

func (p *cardPool) discardResponses(cards ...string) {
	p.discards = append(p.discards, cards...)
}

// loadDecks returns the source corpora, either the embedded decks or the
// files named by --prompt-cards / --response-cards.
func loadDecks(cfg *Config) ([]PromptCard, []string, error) {
	promptData, err := readDeckFile(cfg.promptCards, "assets/cards/prompts.json")
	if err != nil {
		return nil, nil, err
	}
	responseData, err := readDeckFile(cfg.responseCards, "assets/cards/responses.json")
	if err != nil {
		return nil, nil, err
	}

	var prompts []PromptCard
	if err := json.Unmarshal(promptData, &prompts); err != nil {
		return nil, nil, fmt.Errorf("parsing prompt cards: %w", err)
	}
	var responses []string
	if err := json.Unmarshal(responseData, &responses); err != nil {
		return nil, nil, fmt.Errorf("parsing response cards: %w", err)
	}

	if len(prompts) == 0 {
		return nil, nil, fmt.Errorf("prompt deck is empty")
	}
	if len(responses) == 0 {
		return nil, nil, fmt.Errorf("response deck is empty")
	}

	for i := range prompts {
		if prompts[i].Blanks < 1 {
			prompts[i].Blanks = 1
		}
	}

	return prompts, responses, nil
}

func readDeckFile(path, embedded string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return defaultDecks.ReadFile(embedded)
}
