// Package graphquery wraps Google Mangle (a Datalog engine) as the
// traversal backend behind semantic memory's query_graph operation
// (spec.md §4.4.3). Grounded on the teacher's internal/mangle/engine.go:
// same Config/Fact/Engine shape, same load-schema-then-auto-eval flow,
// generalized from codeNERD's shard/tool knowledge graph to dependency
// edges between semantic units.
package graphquery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/obslog"
)

// Config configures the graph-query engine (spec.md §4.4.3: query_graph).
type Config struct {
	FactLimit    int
	QueryTimeout time.Duration
	AutoEval     bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{FactLimit: 500000, QueryTimeout: 10 * time.Second, AutoEval: true}
}

// Fact is one fact in the dependency knowledge graph.
type Fact struct {
	Predicate string
	Args      []any
}

// QueryResult is one query_graph call's bindings.
type QueryResult struct {
	Bindings []map[string]any
	Duration time.Duration
}

// dependencySchema declares the depends_on base predicate over
// (from_id, to_id, dep_type) and a reachable rule computing its
// transitive closure, so "cypher-like traversal" reduces to evaluating
// reachable/2 (spec.md §4.4.3: query_graph).
const dependencySchema = `
Decl depends_on(From, To, Type)
  descr [mode("+", "+", "+")].
Decl reachable(From, To)
  descr [mode("+", "+")].

reachable(From, To) :- depends_on(From, To, _Type).
reachable(From, To) :- depends_on(From, Mid, _Type), reachable(Mid, To).
`

// Engine wraps Mangle's in-memory fact store and compiled program.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu             sync.RWMutex
	store          factstore.ConcurrentFactStore
	baseStore      factstore.FactStoreWithRemove
	programInfo    *analysis.ProgramInfo
	queryContext   *mengine.QueryContext
	predicateIndex map[string]ast.PredicateSym
	factCount      int
}

// NewEngine creates a graph-query engine with the dependency schema
// already loaded and compiled.
func NewEngine(cfg Config) (*Engine, error) {
	baseStore := factstore.NewSimpleInMemoryStore()
	e := &Engine{
		cfg:            cfg,
		log:            obslog.Get(obslog.CategoryGraphQuery),
		baseStore:      baseStore,
		store:          factstore.NewConcurrentFactStore(baseStore),
		predicateIndex: make(map[string]ast.PredicateSym),
	}
	if err := e.loadSchema(dependencySchema); err != nil {
		return nil, fmt.Errorf("graphquery: load schema: %w", err)
	}
	return e, nil
}

func (e *Engine) loadSchema(schema string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.programInfo = programInfo
	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls))
	for sym, decl := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// Clear removes every fact, keeping the compiled schema.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	e.factCount = 0
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
}

// AddFacts inserts depends_on facts and re-evaluates the reachable rule
// when AutoEval is set.
func (e *Engine) AddFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("graphquery: schema not loaded")
	}

	for _, f := range facts {
		atom, err := e.factToAtomLocked(f)
		if err != nil {
			return err
		}
		e.baseStore.Add(atom)
		e.factCount++
	}

	if e.factCount > e.cfg.FactLimit && e.cfg.FactLimit > 0 {
		e.log.Warn("graphquery fact store exceeds configured limit", zap.Int("facts", e.factCount))
	}

	if e.cfg.AutoEval {
		_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
		return err
	}
	return nil
}

// Recompute forces re-evaluation of every rule; useful after bulk
// insertion with AutoEval disabled.
func (e *Engine) Recompute() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.programInfo == nil {
		return fmt.Errorf("graphquery: schema not loaded")
	}
	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

func (e *Engine) factToAtomLocked(f Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[f.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("graphquery: predicate %s not declared", f.Predicate)
	}
	args := make([]ast.BaseTerm, len(f.Args))
	for i, a := range f.Args {
		term, err := toBaseTerm(a)
		if err != nil {
			return ast.Atom{}, err
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

func toBaseTerm(v any) (ast.BaseTerm, error) {
	switch t := v.(type) {
	case string:
		return ast.String(t), nil
	case int:
		return ast.Number(int64(t)), nil
	case int64:
		return ast.Number(t), nil
	default:
		return nil, fmt.Errorf("graphquery: unsupported fact argument type %T", v)
	}
}

// Query evaluates a Datalog query (e.g. "reachable(X, Y)") against the
// compiled program, blocking up to cfg.QueryTimeout.
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	shape, err := parseQueryShape(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	qctx := e.queryContext
	if qctx == nil {
		e.mu.RUnlock()
		return nil, fmt.Errorf("graphquery: schema not loaded")
	}
	decl, ok := qctx.PredToDecl[shape.atom.Predicate]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("graphquery: predicate %s is not declared", shape.atom.Predicate.Symbol)
	}
	if len(decl.Modes()) == 0 {
		e.mu.RUnlock()
		return nil, fmt.Errorf("graphquery: predicate %s has no modes declared", shape.atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	e.mu.RUnlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	resultCh := make(chan []map[string]any, 1)
	errCh := make(chan error, 1)

	go func() {
		var rows []map[string]any
		err := qctx.EvalQuery(shape.atom, mode, unionfind.New(), func(fact ast.Atom) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			row := make(map[string]any, len(shape.variables))
			for _, b := range shape.variables {
				if b.index >= len(fact.Args) {
					continue
				}
				row[b.name] = fromBaseTerm(fact.Args[b.index])
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- rows
	}()

	select {
	case rows := <-resultCh:
		return &QueryResult{Bindings: rows, Duration: time.Since(start)}, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("graphquery: query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

// GetFacts returns every stored fact for a predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graphquery: predicate %s is not declared", predicate)
	}

	var out []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]any, len(atom.Args))
		for i, a := range atom.Args {
			args[i] = fromBaseTerm(a)
		}
		out = append(out, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return out, err
}

func fromBaseTerm(t ast.BaseTerm) any {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		s, _ := c.StringValue()
		return s
	case ast.NumberType:
		n, _ := c.NumberValue()
		return n
	default:
		return c.String()
	}
}

type varBinding struct {
	name  string
	index int
}

type queryShape struct {
	atom      ast.Atom
	variables []varBinding
}

// parseQueryShape parses a query string like "reachable(X, Y)" into the
// atom Mangle evaluates plus the variable-to-arg-index bindings the
// caller wants back, mirroring the teacher's own query parsing idiom.
func parseQueryShape(query string) (*queryShape, error) {
	query = strings.TrimSpace(query)
	open := strings.IndexByte(query, '(')
	if open < 0 || !strings.HasSuffix(query, ")") {
		return nil, fmt.Errorf("graphquery: malformed query %q", query)
	}
	predName := strings.TrimSpace(query[:open])
	argsPart := query[open+1 : len(query)-1]

	var args []ast.BaseTerm
	var bindings []varBinding
	for i, raw := range strings.Split(argsPart, ",") {
		arg := strings.TrimSpace(raw)
		if arg == "" {
			continue
		}
		if isVariable(arg) {
			args = append(args, ast.NewVar(arg))
			bindings = append(bindings, varBinding{name: arg, index: i})
			continue
		}
		args = append(args, ast.String(strings.Trim(arg, `"`)))
	}

	sym := ast.PredicateSym{Symbol: predName, Arity: len(args)}
	return &queryShape{atom: ast.Atom{Predicate: sym, Args: args}, variables: bindings}, nil
}

func isVariable(s string) bool {
	if s == "" {
		return false
	}
	r := s[0]
	return r >= 'A' && r <= 'Z'
}
