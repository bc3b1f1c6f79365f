package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"voxelforge.ai/internal/protocol"
	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/pattern"
	"voxelforge.ai/internal/sim/logic/predicate"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/world"
)

func testWorld(t *testing.T) *world.World {
	t.Helper()
	blocks, err := catalogs.NewBlockCatalog([]catalogs.BlockDef{{ID: "STONE"}, {ID: "PLANK"}})
	if err != nil {
		t.Fatalf("NewBlockCatalog: %v", err)
	}
	cats := &catalogs.Catalogs{Blocks: blocks}
	p, err := pattern.NewBuilder().Layer("SS").Where('S', predicate.For(blocks, "STONE")).Build()
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	r, err := recipes.New("ledge", p, recipes.Result{Type: "LEDGE"}, []items.Stack{{Item: "MORTAR", Count: 1}})
	if err != nil {
		t.Fatalf("recipe: %v", err)
	}
	reg := recipes.NewRegistry()
	if err := reg.Replace([]*recipes.Recipe{r}, nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	return world.New(world.Config{ID: "w1", Consume: true}, cats, reg)
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func dial(t *testing.T, s *Server) (*client, protocol.WelcomeMsg) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	c.send(map[string]any{"type": protocol.TypeHello, "protocol_version": protocol.Version, "actor_name": "tester"})
	var welcome protocol.WelcomeMsg
	c.read(&welcome)
	return c, welcome
}

func (c *client) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) read(v any) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.ReadJSON(v); err != nil {
		c.t.Fatalf("read: %v", err)
	}
}

// do sends one request and returns its RESULT.
func (c *client) do(typ string, fields map[string]any) protocol.ResultMsg {
	c.t.Helper()
	c.seq++
	m := map[string]any{"type": typ, "protocol_version": protocol.Version, "req_id": "r" + strconv.Itoa(c.seq)}
	for k, v := range fields {
		m[k] = v
	}
	c.send(m)
	var res protocol.ResultMsg
	c.read(&res)
	if res.Type != protocol.TypeResult || res.Op != typ || res.ReqID != m["req_id"] {
		c.t.Fatalf("unexpected reply %+v to %s", res, typ)
	}
	return res
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestServerAssemblyFlow(t *testing.T) {
	w := testWorld(t)
	c, welcome := dial(t, NewServer(w, quiet(), WithTuningDigest("tune")))

	if welcome.ActorID != "A1" || welcome.WorldID != "w1" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.Catalogs.RecipesDigest != w.Registry().Digest() || welcome.Catalogs.TuningDigest != "tune" {
		t.Fatalf("welcome digests=%+v", welcome.Catalogs)
	}

	res := c.do(protocol.TypeProbe, map[string]any{"recipe_id": "ledge", "pos": []int{0, 0, 0}})
	if res.OK || res.Code != protocol.ErrNoMatch {
		t.Fatalf("probe on empty grid=%+v", res)
	}

	for _, x := range []int{4, 5} {
		if res := c.do(protocol.TypeSetCell, map[string]any{"pos": []int{x, 0, 0}, "block": "STONE"}); !res.OK {
			t.Fatalf("set_cell=%+v", res)
		}
	}
	if res := c.do(protocol.TypeSetCell, map[string]any{"pos": []int{0, 9, 0}, "block": "NOPE"}); res.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown block=%+v", res)
	}

	res = c.do(protocol.TypeProbe, map[string]any{"pos": []int{5, 0, 0}})
	if !res.OK || res.RecipeID != "ledge" || res.Placement == nil {
		t.Fatalf("probe=%+v", res)
	}
	if diff := cmp.Diff([][3]int{{4, 0, 0}, {5, 0, 0}}, sortedCells(res.Placement.Cells)); diff != "" {
		t.Fatalf("cells (-want +got):\n%s", diff)
	}

	res = c.do(protocol.TypeAssemble, map[string]any{"recipe_id": "ledge", "pos": []int{4, 0, 0}})
	if res.Code != protocol.ErrNoResource {
		t.Fatalf("assemble without mortar=%+v", res)
	}
	if diff := cmp.Diff([]protocol.ItemStack{{Item: "MORTAR", Count: 1}}, res.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}

	res = c.do(protocol.TypeGive, map[string]any{"items": []map[string]any{{"item": "MORTAR", "count": 3}}})
	if !res.OK || len(res.Holdings) != 1 || res.Holdings[0].Count != 3 {
		t.Fatalf("give=%+v", res)
	}

	res = c.do(protocol.TypeAssemble, map[string]any{"recipe_id": "ledge", "pos": []int{4, 0, 0}})
	if !res.OK || res.Entity == nil || res.Entity.ID != "E1" || res.Entity.Type != "LEDGE" {
		t.Fatalf("assemble=%+v", res)
	}
	if res.Holdings[0].Count != 2 {
		t.Fatalf("holdings after assemble=%+v", res.Holdings)
	}

	res = c.do(protocol.TypeRecipes, nil)
	if diff := cmp.Diff([]string{"ledge"}, res.RecipeIDs); diff != "" || res.Digest != w.Registry().Digest() {
		t.Fatalf("recipes=%+v", res)
	}

	res = c.do("TELEPORT", nil)
	if res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("unknown type=%+v", res)
	}
}

func TestServerRejectsWrongVersion(t *testing.T) {
	c, _ := dial(t, NewServer(testWorld(t), quiet()))
	c.send(map[string]any{"type": protocol.TypeRecipes, "protocol_version": "0.1", "req_id": "x"})
	var res protocol.ResultMsg
	c.read(&res)
	if res.Code != protocol.ErrProtoVersion || res.ReqID != "x" {
		t.Fatalf("res=%+v", res)
	}
}

func TestServerHandshakeRequiresHello(t *testing.T) {
	ts := httptest.NewServer(NewServer(testWorld(t), quiet()).Handler())
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	b, _ := json.Marshal(map[string]any{"type": protocol.TypeProbe, "protocol_version": protocol.Version})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
}

func TestServerRateLimit(t *testing.T) {
	now := time.Unix(0, 0)
	s := NewServer(testWorld(t), quiet(),
		WithLimits(Limits{Window: time.Second, ProbeMax: 2}),
		WithClock(func() time.Time { return now }))
	c, _ := dial(t, s)

	probe := map[string]any{"recipe_id": "ledge", "pos": []int{0, 0, 0}}
	for i := 0; i < 2; i++ {
		if res := c.do(protocol.TypeProbe, probe); res.Code != protocol.ErrNoMatch {
			t.Fatalf("probe %d=%+v", i, res)
		}
	}
	if res := c.do(protocol.TypeProbe, probe); res.Code != protocol.ErrRateLimit {
		t.Fatalf("third probe=%+v", res)
	}
	// Other ops have their own windows.
	if res := c.do(protocol.TypeRecipes, nil); !res.OK {
		t.Fatalf("recipes=%+v", res)
	}
}

func TestLimiterWindow(t *testing.T) {
	now := time.Unix(100, 0)
	l := newLimiter(Limits{Window: time.Second, AssembleMax: 1}, func() time.Time { return now })

	if ok, _ := l.allow(protocol.TypeAssemble); !ok {
		t.Fatalf("first assemble denied")
	}
	now = now.Add(400 * time.Millisecond)
	ok, wait := l.allow(protocol.TypeCraftToken)
	if ok || wait != 600*time.Millisecond {
		t.Fatalf("shared window ok=%v wait=%s", ok, wait)
	}
	now = now.Add(600 * time.Millisecond)
	if ok, _ := l.allow(protocol.TypeCraftToken); !ok {
		t.Fatalf("denied after window reset")
	}
	if ok, _ := l.allow(protocol.TypeProbe); !ok {
		t.Fatalf("unlimited op denied")
	}
}

func sortedCells(in [][3]int) [][3]int {
	out := append([][3]int(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j][0] < out[j-1][0]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
