package benchmark

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
)

var benchQueries = []struct {
	name  string
	query string
}{
	{"phrase", `"the rose"`},
	{"union", `"rose" | "thorn" | "petal"`},
	{"adjacency", `"red" & "rose"`},
	{"collocation", `"rose", "garden", 4`},
	{"wildcard", `wild="pe%"`},
	{"regex", `reg="r[a-z]+e" CI`},
	{"frequency", `freq=2-3`},
	{"tag", `tag="/Flower"`},
	{"property", `property="certainty" = "1"`},
	{"refined", `("rose" | "thorn") where tag="Flower%" | "garden"`},
}

// BenchmarkQueryParse measures parsing and AST construction for queries of
// every kind.
func BenchmarkQueryParse(b *testing.B) {
	for _, q := range benchQueries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := ast.Parse(q.query); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func newEngine(b *testing.B, docs int) *engine.Engine {
	b.Helper()
	cfg := config.Default()
	e, err := engine.New(buildCorpus(b, docs), cfg.Query, cfg.Tracing, nil)
	if err != nil {
		b.Fatal(err)
	}
	return e
}

// BenchmarkEngineExecute measures evaluation of a prepared plan over 2 000
// documents.
func BenchmarkEngineExecute(b *testing.B) {
	e := newEngine(b, 2000)
	for _, q := range benchQueries {
		plan, err := e.Prepare(q.query)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := e.Execute(context.Background(), plan, engine.Options{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkEngineExecuteScoped restricts evaluation to a handful of
// documents, the common case for interactive analysis.
func BenchmarkEngineExecuteScoped(b *testing.B) {
	e := newEngine(b, 10000)
	plan, err := e.Prepare(`"rose", "garden"`)
	if err != nil {
		b.Fatal(err)
	}
	opts := engine.Options{DocumentIDs: []string{"doc-1", "doc-2", "doc-3", "doc-4"}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Execute(context.Background(), plan, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEngineExecuteParallel measures concurrent evaluation throughput.
func BenchmarkEngineExecuteParallel(b *testing.B) {
	e := newEngine(b, 2000)
	plan, err := e.Prepare(`"rose" | "thorn"`)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Execute(context.Background(), plan, engine.Options{}); err != nil {
				b.Fatal(err)
			}
		}
	})
}
