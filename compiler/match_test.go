package compiler

import (
	"errors"
	"testing"

	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/vm"
)

// ---------------------------------------------------------------------------
// Match compilation tests
// ---------------------------------------------------------------------------

// classify mirrors: match n { 0 => 10, 1..=5 => 20, n if n > 100 => 30, _ => 40 }
func classifyUnit() *Unit {
	return &Unit{
		Name: "classify",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &Input{},
				Type:    TU64,
				Arms: []Arm{
					{Pat: &PatLit{Value: 0}, Body: u64(10)},
					{Pat: &PatRange{Lo: 1, Hi: 5}, Body: u64(20)},
					{Pat: &PatBind{Name: "n"}, Guard: gt(v("n"), u64(100)), Body: u64(30)},
					{Pat: &PatWild{}, Body: u64(40)},
				},
			}},
		},
	}
}

func TestMatchDecisionTree(t *testing.T) {
	cases := map[uint64]uint64{
		0:   10,
		3:   20,
		5:   20,
		6:   40,
		150: 30,
	}
	allLevels(t, func(t *testing.T, level manifest.Level) {
		p := newPipeline(t, 0x90)
		unit := classifyUnit()
		for in, want := range cases {
			input := make([]byte, 8)
			for i := 0; i < 8; i++ {
				input[i] = byte(in >> (8 * i))
			}
			if got := p.mustRun(t, unit, level, input); got != want {
				t.Errorf("match %d = %d, want %d", in, got, want)
			}
		}
	})
}

func TestMatchOrPattern(t *testing.T) {
	unit := &Unit{
		Name: "orpat",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &Input{},
				Type:    TU64,
				Arms: []Arm{
					{Pat: &PatOr{Pats: []Pattern{
						&PatLit{Value: 2},
						&PatLit{Value: 4},
						&PatRange{Lo: 10, Hi: 12},
					}}, Body: u64(1)},
					{Pat: &PatWild{}, Body: u64(0)},
				},
			}},
		},
	}
	p := newPipeline(t, 0x91)
	for in, want := range map[uint64]uint64{2: 1, 3: 0, 4: 1, 10: 1, 12: 1, 13: 0} {
		input := []byte{byte(in), 0, 0, 0, 0, 0, 0, 0}
		if got := p.mustRun(t, unit, manifest.LevelStandard, input); got != want {
			t.Errorf("or-pattern %d = %d, want %d", in, got, want)
		}
	}
}

func TestMatchAtBinding(t *testing.T) {
	// x @ 1..=9 binds the subject and tests the range.
	unit := &Unit{
		Name: "atbind",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &Input{},
				Type:    TU64,
				Arms: []Arm{
					{
						Pat:  &PatBind{Name: "x", Inner: &PatRange{Lo: 1, Hi: 9}},
						Body: mul(v("x"), u64(2)),
					},
					{Pat: &PatWild{}, Body: u64(0)},
				},
			}},
		},
	}
	p := newPipeline(t, 0x92)
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{7}); got != 14 {
		t.Errorf("at-binding arm = %d, want 14", got)
	}
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{50}); got != 0 {
		t.Errorf("fallthrough arm = %d, want 0", got)
	}
}

func TestMatchTuplePattern(t *testing.T) {
	// match (input & 0xF, input >> 4) { (0, y) => y, (x, 0) => x + 100, _ => 7 }
	unit := &Unit{
		Name: "tuplepat",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &TupleLit{Elems: []Expr{
					&Binary{Op: OpAndB, X: &Input{}, Y: u64(0xF)},
					&Binary{Op: OpShrB, X: &Input{}, Y: u64(4)},
				}},
				Type: TU64,
				Arms: []Arm{
					{Pat: &PatTuple{Elems: []Pattern{
						&PatLit{Value: 0},
						&PatBind{Name: "y"},
					}}, Body: v("y")},
					{Pat: &PatTuple{Elems: []Pattern{
						&PatBind{Name: "x"},
						&PatLit{Value: 0},
					}}, Body: add(v("x"), u64(100))},
					{Pat: &PatWild{}, Body: u64(7)},
				},
			}},
		},
	}
	p := newPipeline(t, 0x93)
	for in, want := range map[byte]uint64{
		0x30: 3,   // (0, 3) -> y
		0x05: 105, // (5, 0) -> x + 100
		0x21: 7,   // (1, 2) -> wildcard
	} {
		if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{in}); got != want {
			t.Errorf("tuple match %#02x = %d, want %d", in, got, want)
		}
	}
}

func TestMatchStructPattern(t *testing.T) {
	unit := &Unit{
		Name: "structpat",
		Ret:  TU64,
		Body: []Stmt{
			&StructDef{Name: "Pair", Fields: []string{"a", "b"}},
			&Let{Name: "p", Value: &StructLit{TypeName: "Pair", Fields: []FieldInit{
				{Name: "a", Value: &Binary{Op: OpAndB, X: &Input{}, Y: u64(0xF)}},
				{Name: "b", Value: u64(9)},
			}}},
			&ExprStmt{X: &Match{
				Subject: v("p"),
				Type:    TU64,
				Arms: []Arm{
					{Pat: &PatStruct{TypeName: "Pair", Fields: map[string]Pattern{
						"a": &PatLit{Value: 3},
					}}, Body: u64(1)},
					{Pat: &PatStruct{TypeName: "Pair", Fields: map[string]Pattern{
						"b": &PatBind{Name: "bv"},
					}}, Body: v("bv")},
					{Pat: &PatWild{}, Body: u64(0)},
				},
			}},
		},
	}
	p := newPipeline(t, 0x94)
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{0x03}); got != 1 {
		t.Errorf("struct pattern a=3 arm = %d, want 1", got)
	}
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{0x05}); got != 9 {
		t.Errorf("struct pattern binding arm = %d, want 9", got)
	}
}

func TestMatchNonExhaustiveTraps(t *testing.T) {
	unit := &Unit{
		Name: "nonexhaustive",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &Input{},
				Type:    TU64,
				Arms: []Arm{
					{Pat: &PatLit{Value: 1}, Body: u64(1)},
					{Pat: &PatLit{Value: 2}, Body: u64(2)},
				},
			}},
		},
	}
	p := newPipeline(t, 0x95)

	// A covered subject works.
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{1}); got != 1 {
		t.Errorf("covered arm = %d, want 1", got)
	}

	// An uncovered subject hits the emitted trap.
	_, err := p.run(t, unit, manifest.LevelStandard, []byte{9}, nil)
	if err == nil {
		t.Fatal("uncovered subject did not fault")
	}
	var fault *vm.Fault
	if !errors.As(err, &fault) || fault.Kind != vm.NonExhaustiveMatch {
		t.Fatalf("fault = %v, want NonExhaustiveMatch", err)
	}
}

func TestMatchGuardFallsThrough(t *testing.T) {
	// A guarded irrefutable pattern still needs a later arm.
	unit := &Unit{
		Name: "guard",
		Ret:  TU64,
		Body: []Stmt{
			&ExprStmt{X: &Match{
				Subject: &Input{},
				Type:    TU64,
				Arms: []Arm{
					{Pat: &PatBind{Name: "n"}, Guard: gt(v("n"), u64(50)), Body: u64(1)},
					{Pat: &PatBind{Name: "m"}, Body: v("m")},
				},
			}},
		},
	}
	p := newPipeline(t, 0x96)
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{60}); got != 1 {
		t.Errorf("guard pass = %d, want 1", got)
	}
	if got := p.mustRun(t, unit, manifest.LevelStandard, []byte{8}); got != 8 {
		t.Errorf("guard fail = %d, want 8", got)
	}
}
