package sequence

import "fmt"

type Kind int

const (
	KindInit Kind = iota
	KindFini
	KindPeriodic
	KindSingle
	KindLoadResource
	KindRepeatBegin
	KindRepeatEnd
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindFini:
		return "fini"
	case KindPeriodic:
		return "periodic"
	case KindSingle:
		return "single"
	case KindLoadResource:
		return "load"
	case KindRepeatBegin:
		return "repeat-begin"
	case KindRepeatEnd:
		return "repeat-end"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Instruction is one parsed description line.
//
// Which payload fields are meaningful depends on Kind:
//   - Init, Fini: Expr
//   - Single: Delay, Expr
//   - Periodic: Delay, Offset, Expr
//   - LoadResource: Path
//   - RepeatBegin: Count
//   - RepeatEnd: none
type Instruction struct {
	Kind Kind
	Line int

	Expr   string
	Delay  float64
	Offset float64
	Count  float64
	Path   string
}

// Program is the ordered result of parsing one description.
type Program struct {
	Name         string
	Instructions []Instruction
	// Depth is the repeat nesting depth after the last line. Parse only
	// returns programs with Depth == 0.
	Depth int
}
