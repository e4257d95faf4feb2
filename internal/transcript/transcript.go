package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Speaker identifies who produced a turn. Values match the wire roles used by the
// browser client and stored history rows.
type Speaker string

const (
	SpeakerTrainee  Speaker = "user"
	SpeakerCustomer Speaker = "assistant"
)

var ErrEmptyTurn = errors.New("turn text is empty")

// Turn is one utterance attributed to the trainee or the simulated customer.
type Turn struct {
	Speaker Speaker `json:"role"`
	Text    string  `json:"content"`
}

func Trainee(text string) Turn  { return Turn{Speaker: SpeakerTrainee, Text: text} }
func Customer(text string) Turn { return Turn{Speaker: SpeakerCustomer, Text: text} }

func (s Speaker) Valid() bool {
	return s == SpeakerTrainee || s == SpeakerCustomer
}

// Transcript is the ordered, append-only history of a session.
type Transcript struct {
	turns []Turn
}

func New(turns ...Turn) (*Transcript, error) {
	t := &Transcript{}
	for _, turn := range turns {
		if err := t.Append(turn); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Transcript) Append(turn Turn) error {
	if !turn.Speaker.Valid() {
		return fmt.Errorf("invalid speaker %q", turn.Speaker)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return ErrEmptyTurn
	}
	t.turns = append(t.turns, turn)
	return nil
}

func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.turns)
}

// Turns returns a copy; callers may keep it after further appends.
func (t *Transcript) Turns() []Turn {
	if t == nil || len(t.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Last() (Turn, bool) {
	if t.Len() == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

func (t *Transcript) MarshalJSON() ([]byte, error) {
	turns := t.Turns()
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(turns)
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	loaded, err := New(turns...)
	if err != nil {
		return err
	}
	t.turns = loaded.turns
	return nil
}
