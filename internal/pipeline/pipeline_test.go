package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/zot/uigen/internal/handles"
	"github.com/zot/uigen/internal/preview"
	"github.com/zot/uigen/internal/resolve"
	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// recorder is a Publisher remembering what it was given.
type recorder struct {
	mu      sync.Mutex
	results []*Result
	onPub   func(*Result)
}

func (r *recorder) Publish(res *Result) {
	if r.onPub != nil {
		r.onPub(res)
	}
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seqs []uint64
	for _, res := range r.results {
		seqs = append(seqs, res.Seq)
	}
	return seqs
}

func testPipeline() (*Pipeline, *handles.Manager, *recorder) {
	h := handles.NewManager(handles.ModeServed, "", nil)
	rec := &recorder{}
	p := New(Options{
		Transform: transform.DefaultOptions(),
		Resolve:   resolve.DefaultOptions(),
		Title:     "test",
	}, h, rec)
	return p, h, rec
}

func handleName(url string) string {
	return strings.TrimPrefix(url, "/modules/")
}

var buttonApp = vfs.Snapshot{
	"/App.jsx": `import Button from "@/components/Button";
export default function App() { return <Button label="hi" />; }`,
	"/components/Button.jsx": `export default function Button({ label }) { return <button>{label}</button>; }`,
}

// TestAliasedImportReachesModule verifies the aliased Button import maps to
// the Button module's handle rather than a placeholder.
func TestAliasedImportReachesModule(t *testing.T) {
	p, h, rec := testPipeline()
	defer p.Close()
	p.Trigger(buttonApp)
	p.Wait()

	res := p.Latest()
	if res == nil || res.Document.Kind != preview.KindApp {
		t.Fatalf("latest = %+v", res)
	}
	if len(res.Placeholders) != 0 {
		t.Errorf("placeholders = %v", res.Placeholders)
	}
	url := res.Generation.Imports["@/components/Button.jsx"]
	code, ok := h.Registry().Get(handleName(url))
	if !ok || !strings.Contains(code, "button") {
		t.Errorf("button handle %q = %q", url, code)
	}
	app, _ := h.Registry().Get(handleName(res.Generation.Imports["@/App.jsx"]))
	if !strings.Contains(app, `"@/components/Button.jsx"`) {
		t.Errorf("App not rewritten:\n%s", app)
	}
	if !strings.Contains(res.Document.HTML, url) {
		t.Error("document does not map the Button handle")
	}
	if got := rec.seqs(); len(got) != 1 || got[0] != 1 {
		t.Errorf("published = %v", got)
	}
}

// TestSupersededGenerationNeverPublished verifies that when a second
// mutation arrives before the first generation is handed off, only the
// second is published and the first one's handles are released.
func TestSupersededGenerationNeverPublished(t *testing.T) {
	p, h, rec := testPipeline()
	defer p.Close()

	reached := make(chan struct{})
	release := make(chan struct{})
	p.hook = func(seq uint64) {
		if seq == 1 {
			close(reached)
			<-release
		}
	}

	first := vfs.Snapshot{"/App.jsx": `export default () => <p>first</p>;`}
	second := vfs.Snapshot{"/App.jsx": `export default () => <p>second</p>;`}
	p.Trigger(first)
	<-reached
	p.Trigger(second)
	close(release)
	p.Wait()

	if got := rec.seqs(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("published = %v, want [2]", got)
	}
	code, _ := h.Registry().Get(handleName(p.Latest().Generation.Imports["@/App.jsx"]))
	if !strings.Contains(code, "second") {
		t.Errorf("published code = %s", code)
	}
	if h.Live() != p.Latest().Generation.Len() || h.Registry().Len() != h.Live() {
		t.Errorf("live = %d registry = %d, want %d", h.Live(), h.Registry().Len(), p.Latest().Generation.Len())
	}
}

func TestRapidTriggersPublishLatest(t *testing.T) {
	p, h, rec := testPipeline()
	defer p.Close()
	var last uint64
	for i := 0; i < 20; i++ {
		last = p.Trigger(vfs.Snapshot{"/App.jsx": `export default () => ` + strings.Repeat("1+", i) + `1;`})
	}
	p.Wait()
	seqs := rec.seqs()
	if len(seqs) == 0 || seqs[len(seqs)-1] != last {
		t.Fatalf("published = %v, last = %d", seqs, last)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("published out of order: %v", seqs)
		}
	}
	if h.Live() != p.Latest().Generation.Len() {
		t.Errorf("live = %d after rapid edits", h.Live())
	}
}

// TestRetireAfterPublish verifies the previous generation is still loadable
// while its successor is handed off and released afterwards.
func TestRetireAfterPublish(t *testing.T) {
	p, h, rec := testPipeline()
	defer p.Close()
	p.Trigger(buttonApp)
	p.Wait()
	oldName := handleName(p.Latest().Generation.Imports["@/App.jsx"])

	var loadableDuringPublish bool
	rec.onPub = func(*Result) {
		_, loadableDuringPublish = h.Registry().Get(oldName)
	}
	next := vfs.Snapshot{"/App.jsx": `export default () => null;`}
	p.Trigger(next)
	p.Wait()

	if !loadableDuringPublish {
		t.Error("previous generation retired before the new document was published")
	}
	if _, ok := h.Registry().Get(oldName); ok {
		t.Error("previous generation not retired after publish")
	}
}

func TestDiagnosticsGeneration(t *testing.T) {
	p, h, _ := testPipeline()
	defer p.Close()
	p.Trigger(vfs.Snapshot{
		"/App.jsx":    `import Broken from "./Broken"; export default Broken;`,
		"/Broken.jsx": "const a = 1;\nconst b = ;\n",
	})
	p.Wait()
	res := p.Latest()
	if res.Document.Kind != preview.KindDiagnostics {
		t.Fatalf("kind = %s", res.Document.Kind)
	}
	diags := p.Diagnostics()
	if len(diags) != 1 || diags[0].File != "/Broken.jsx" || diags[0].Line != 2 || diags[0].Column != 11 {
		t.Errorf("diagnostics = %+v", diags)
	}
	if h.Live() != 0 {
		t.Errorf("diagnostics generation created %d handles", h.Live())
	}
}

func TestMissingImportStillRenders(t *testing.T) {
	p, _, _ := testPipeline()
	defer p.Close()
	p.Trigger(vfs.Snapshot{
		"/App.jsx": `import Chart from "./Chart"; export default () => <Chart />;`,
	})
	p.Wait()
	res := p.Latest()
	if res.Document.Kind != preview.KindApp {
		t.Fatalf("kind = %s", res.Document.Kind)
	}
	if len(res.Placeholders) != 1 || res.Placeholders[0].Target != "/Chart" {
		t.Errorf("placeholders = %v", res.Placeholders)
	}
	if _, ok := res.Generation.Imports["@/../missing/Chart"]; !ok {
		t.Error("placeholder not mapped")
	}
}

func TestEmptyProject(t *testing.T) {
	p, _, _ := testPipeline()
	defer p.Close()
	p.Trigger(vfs.Snapshot{})
	p.Wait()
	if kind := p.Latest().Document.Kind; kind != preview.KindEmpty {
		t.Errorf("kind = %s", kind)
	}
}

func TestCompileCache(t *testing.T) {
	p, _, _ := testPipeline()
	defer p.Close()
	p.Trigger(buttonApp)
	p.Wait()
	if p.Compiles() != 2 {
		t.Fatalf("compiles = %d", p.Compiles())
	}
	p.Trigger(buttonApp)
	p.Wait()
	if p.Compiles() != 2 {
		t.Errorf("unchanged files recompiled: %d", p.Compiles())
	}
	edited := vfs.Snapshot{"/App.jsx": buttonApp["/App.jsx"] + "\n// edit", "/components/Button.jsx": buttonApp["/components/Button.jsx"]}
	p.Trigger(edited)
	p.Wait()
	if p.Compiles() != 3 {
		t.Errorf("compiles after one edit = %d", p.Compiles())
	}
}

func TestGenerateCancelled(t *testing.T) {
	p, h, _ := testPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Generate(ctx, 1, buttonApp); err == nil {
		t.Fatal("expected cancellation")
	}
	if h.Live() != 0 {
		t.Errorf("cancelled generation leaked %d handles", h.Live())
	}
}

func TestWaitWhileTriggering(t *testing.T) {
	p, _, _ := testPipeline()
	defer p.Close()

	stop := make(chan struct{})
	var waiters sync.WaitGroup
	for i := 0; i < 8; i++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			for {
				select {
				case <-stop:
					return
				default:
					p.Wait()
				}
			}
		}()
	}
	for i := 0; i < 2000; i++ {
		p.Trigger(vfs.Snapshot{"/x.txt": "x"})
	}
	close(stop)
	waiters.Wait()

	seq := p.Trigger(buttonApp)
	p.Wait()
	if res := p.Latest(); res == nil || res.Seq != seq {
		t.Fatalf("latest after Wait = %+v, want generation %d", res, seq)
	}
}

func TestWaitReturnsAfterClose(t *testing.T) {
	p, _, _ := testPipeline()
	p.Trigger(buttonApp)
	p.Close()
	p.Trigger(buttonApp)
	p.Wait()
}
