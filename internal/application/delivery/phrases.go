package delivery

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
)

//go:embed phrases.yaml
var defaultPhrases []byte

const unitPlaceholder = "{n}"

// Phrasebook holds the message templates used by the Executor.
type Phrasebook struct {
	Intro      map[string][]string `yaml:"intro"`
	Caption    string              `yaml:"caption"`
	Completion string              `yaml:"completion"`
}

// ParsePhrasebook decodes and validates a YAML phrasebook.
func ParsePhrasebook(data []byte) (*Phrasebook, error) {
	var pb Phrasebook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("phrasebook: decode: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// LoadPhrasebook reads a phrasebook from path, or returns the embedded one when path is empty.
func LoadPhrasebook(path string) (*Phrasebook, error) {
	if path == "" {
		return ParsePhrasebook(defaultPhrases)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("phrasebook: read %s: %w", path, err)
	}
	return ParsePhrasebook(data)
}

// DefaultPhrasebook returns the embedded phrasebook.
func DefaultPhrasebook() *Phrasebook {
	pb, err := ParsePhrasebook(defaultPhrases)
	if err != nil {
		panic(err)
	}
	return pb
}

// Validate checks that every pool needed at runtime is present.
func (p *Phrasebook) Validate() error {
	var errs []error
	for _, key := range []string{string(subscriber.AttributeMale), string(subscriber.AttributeFemale), "default"} {
		if len(p.Intro[key]) == 0 {
			errs = append(errs, fmt.Errorf("phrasebook: intro pool %q is empty", key))
		}
	}
	if strings.TrimSpace(p.Caption) == "" {
		errs = append(errs, errors.New("phrasebook: caption is empty"))
	}
	if strings.TrimSpace(p.Completion) == "" {
		errs = append(errs, errors.New("phrasebook: completion is empty"))
	}
	return errors.Join(errs...)
}

// IntroFor picks one intro line for the attribute's pool.
func (p *Phrasebook) IntroFor(attr subscriber.Attribute, unit int, rnd Rand) string {
	pool := p.Intro[string(attr)]
	if len(pool) == 0 {
		pool = p.Intro["default"]
	}
	return render(pool[rnd.IntN(len(pool))], unit)
}

// CaptionFor renders the media caption.
func (p *Phrasebook) CaptionFor(unit int) string {
	return render(p.Caption, unit)
}

func render(tpl string, unit int) string {
	return strings.ReplaceAll(tpl, unitPlaceholder, strconv.Itoa(unit))
}
