package offline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

// Decision is what to do with a position whose offline data is not complete
type Decision string

const (
	DecisionUseOffline  Decision = "use_available"
	DecisionRegenerate  Decision = "regenerate"
	DecisionFetchOnline Decision = "fetch_online"
	DecisionSkip        Decision = "skip"
)

// ModeInteractive asks the Prompter for every incomplete position
const ModeInteractive = "interactive"

// ParseDecision maps a configured mode onto a fixed decision
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionUseOffline, DecisionRegenerate, DecisionFetchOnline, DecisionSkip:
		return d, nil
	default:
		return "", fmt.Errorf("unknown offline decision %q", s)
	}
}

// BatchPolicy carries the decision mode of one batch run and, in interactive
// mode, the answer the user chose to apply to all remaining positions.
// Callers create one per run or call Reset before reusing it.
type BatchPolicy struct {
	mode       string
	remembered Decision
}

// NewBatchPolicy creates a policy; mode is "interactive" or one of the decisions
func NewBatchPolicy(mode string) (*BatchPolicy, error) {
	if mode == "" || mode == ModeInteractive {
		return &BatchPolicy{mode: ModeInteractive}, nil
	}
	if _, err := ParseDecision(mode); err != nil {
		return nil, err
	}
	return &BatchPolicy{mode: mode}, nil
}

// Reset forgets any remembered answer
func (p *BatchPolicy) Reset() {
	p.remembered = ""
}

// Remembered returns the answer applied to all remaining positions, if any
func (p *BatchPolicy) Remembered() (Decision, bool) {
	return p.remembered, p.remembered != ""
}

// Interactive reports whether decisions come from a prompt
func (p *BatchPolicy) Interactive() bool {
	return p.mode == ModeInteractive
}

func (p *BatchPolicy) decide(ctx context.Context, prompter Prompter, req PromptRequest) (Decision, error) {
	if !p.Interactive() {
		return Decision(p.mode), nil
	}
	if d, ok := p.Remembered(); ok {
		return d, nil
	}
	if prompter == nil {
		return "", fmt.Errorf("interactive offline policy needs a prompter")
	}

	choice, err := prompter.Prompt(ctx, req)
	if err != nil {
		return "", err
	}
	if choice.ApplyToAll {
		p.remembered = choice.Decision
	}
	return choice.Decision, nil
}

// PromptRequest describes the incomplete position shown to the user
type PromptRequest struct {
	Pool      string
	OpenTime  time.Time
	CloseTime time.Time
	Timeframe models.Timeframe
	Status    models.CacheStatus
	Ratio     float64
}

// Choice is one answer to a prompt
type Choice struct {
	Decision   Decision
	ApplyToAll bool
}

// Prompter asks the user how to handle incomplete offline data
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (Choice, error)
}

// LinePrompter prompts on a text stream, one answer per line
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter reads answers from in and writes questions to out
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

var menu = []Decision{DecisionUseOffline, DecisionRegenerate, DecisionFetchOnline, DecisionSkip}

// Prompt asks for a decision until a valid one is entered, then whether to apply it to all
func (l *LinePrompter) Prompt(ctx context.Context, req PromptRequest) (Choice, error) {
	fmt.Fprintf(l.out, "\nOffline data for %s (%s .. %s, %s) is %s: %.1f%% of expected points.\n",
		req.Pool,
		req.OpenTime.UTC().Format(time.RFC3339),
		req.CloseTime.UTC().Format(time.RFC3339),
		req.Timeframe, req.Status, req.Ratio*100)
	fmt.Fprintln(l.out, "  1) use available data")
	fmt.Fprintln(l.out, "  2) regenerate from raw cache")
	fmt.Fprintln(l.out, "  3) fetch online")
	fmt.Fprintln(l.out, "  4) skip position")

	var decision Decision
	for decision == "" {
		if err := ctx.Err(); err != nil {
			return Choice{}, err
		}
		fmt.Fprint(l.out, "Choice [1-4]: ")
		line, err := l.readLine()
		if err != nil {
			return Choice{}, err
		}
		switch line {
		case "1", "2", "3", "4":
			decision = menu[line[0]-'1']
		default:
			fmt.Fprintf(l.out, "invalid choice %q\n", line)
		}
	}

	fmt.Fprint(l.out, "Apply to all remaining positions in this run? [y/N]: ")
	line, err := l.readLine()
	if err != nil {
		return Choice{}, err
	}
	applyAll := line == "y" || line == "yes"
	return Choice{Decision: decision, ApplyToAll: applyAll}, nil
}

func (l *LinePrompter) readLine() (string, error) {
	line, err := l.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}
