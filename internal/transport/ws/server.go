package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelforge.ai/internal/protocol"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/tokencraft"
	"voxelforge.ai/internal/sim/world"
)

type Server struct {
	world        *world.World
	log          *log.Logger
	limits       Limits
	tuningDigest string
	now          func() time.Time

	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLimits(l Limits) Option            { return func(s *Server) { s.limits = l } }
func WithTuningDigest(d string) Option      { return func(s *Server) { s.tuningDigest = d } }
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func NewServer(w *world.World, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags)
	}
	s := &Server{
		world: w,
		log:   logger,
		now:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actorID := s.handshake(conn)
		if actorID == "" {
			return
		}
		s.log.Printf("actor %s connected from %s", actorID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := newLimiter(s.limits, s.now)

		// Reader loop. Requests are answered in order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.dispatch(actorID, lim, msg)
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("encode result: %v", err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.log.Printf("actor %s disconnected", actorID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return ""
	}

	actorID := s.world.Join()
	if hello.ActorName != "" {
		s.log.Printf("actor %s is %q", actorID, hello.ActorName)
	}
	if err := writeJSON(conn, s.welcome(actorID)); err != nil {
		return ""
	}
	return actorID
}

func (s *Server) welcome(actorID string) protocol.WelcomeMsg {
	cats := s.world.Catalogs()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         actorID,
		WorldID:         s.world.ID(),
		Catalogs: protocol.CatalogDigests{
			BlockPalette:  protocol.DigestRef{Digest: cats.Blocks.PaletteDigest, Count: len(cats.Blocks.Palette)},
			ItemPalette:   protocol.DigestRef{Digest: cats.Items.PaletteDigest, Count: len(cats.Items.Palette)},
			RecipesDigest: s.world.Registry().Digest(),
			TuningDigest:  s.tuningDigest,
		},
		Holdings: stacksObs(s.world.Holdings(actorID)),
	}
}

// dispatch decodes one request and runs it against the world.
func (s *Server) dispatch(actorID string, lim *limiter, msg []byte) protocol.ResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return failure(base, protocol.ErrProtoBadRequest, err.Error())
	}
	if base.ProtocolVersion != protocol.Version {
		return failure(base, protocol.ErrProtoVersion, fmt.Sprintf("want %s", protocol.Version))
	}
	if ok, wait := lim.allow(base.Type); !ok {
		return failure(base, protocol.ErrRateLimit, fmt.Sprintf("retry in %s", wait.Round(time.Millisecond)))
	}

	switch base.Type {
	case protocol.TypeSetCell:
		var m protocol.SetCellMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return failure(base, protocol.ErrProtoBadRequest, err.Error())
		}
		c := grid.Cell{Block: m.Block, State: m.State, Payload: m.Payload}
		if err := s.world.SetCell(vec(m.Pos), c); err != nil {
			return failure(base, protocol.ErrBadRequest, err.Error())
		}
		return success(base)

	case protocol.TypeGive:
		var m protocol.GiveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return failure(base, protocol.ErrProtoBadRequest, err.Error())
		}
		held, err := s.world.Give(actorID, stacksIn(m.Items))
		if err != nil {
			return failure(base, protocol.ErrBadRequest, err.Error())
		}
		res := success(base)
		res.Holdings = stacksObs(held)
		return res

	case protocol.TypeProbe:
		var m protocol.ProbeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return failure(base, protocol.ErrProtoBadRequest, err.Error())
		}
		pr := s.world.Probe(m.RecipeID, vec(m.Pos))
		res := outcome(base, pr.Code)
		res.RecipeID = pr.RecipeID
		res.Stats = statsObs(pr.Stats.Queries, pr.Stats.Candidates, pr.Stats.Orientations)
		if pr.OK() {
			res.Placement = placementObs(pr.Placement.Anchor, pr.Placement.Finger, pr.Placement.Thumb, pr.Cells)
		}
		return res

	case protocol.TypeAssemble:
		var m protocol.AssembleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return failure(base, protocol.ErrProtoBadRequest, err.Error())
		}
		if m.RecipeID == "" {
			return failure(base, protocol.ErrBadRequest, "missing recipe_id")
		}
		ar := s.world.Assemble(actorID, m.RecipeID, vec(m.Pos))
		res := outcome(base, ar.Code)
		res.RecipeID = ar.RecipeID
		res.Stats = statsObs(ar.Stats.Queries, ar.Stats.Candidates, ar.Stats.Orientations)
		if ar.Code != protocol.ErrNoMatch && ar.Code != protocol.ErrInvalidTarget {
			res.Placement = placementObs(ar.Placement.Anchor, ar.Placement.Finger, ar.Placement.Thumb, ar.Cells)
		}
		res.Missing = stacksObs(ar.Missing)
		res.Holdings = stacksObs(ar.Holdings)
		if e := ar.Entity; e != nil {
			res.Entity = &protocol.EntityObs{ID: e.ID, Type: e.Type, RecipeID: e.RecipeID, Pos: e.Pos.Array(), Payload: e.Payload}
		}
		return res

	case protocol.TypeCraftToken:
		var m protocol.CraftTokenMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return failure(base, protocol.ErrProtoBadRequest, err.Error())
		}
		var g tokencraft.Grid
		for y := range m.Grid {
			for x := range m.Grid[y] {
				g[y][x] = stackIn(m.Grid[y][x])
			}
		}
		tr := s.world.CraftToken(actorID, g)
		res := outcome(base, tr.Code)
		res.RecipeID = tr.RecipeID
		res.Missing = stacksObs(tr.Missing)
		res.Holdings = stacksObs(tr.Holdings)
		if tr.OK() {
			t := stackObs(tr.Token)
			res.Token = &t
		}
		return res

	case protocol.TypeRecipes:
		set := s.world.Registry().Current()
		res := success(base)
		res.RecipeIDs = set.IDs()
		res.Digest = set.Digest()
		return res
	}
	return failure(base, protocol.ErrProtoBadRequest, fmt.Sprintf("unknown type %q", base.Type))
}

func outcome(base protocol.BaseMessage, code string) protocol.ResultMsg {
	if code == "" {
		return success(base)
	}
	return failure(base, code, protocol.Describe(code))
}

func success(base protocol.BaseMessage) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           base.ReqID,
		Op:              base.Type,
		OK:              true,
	}
}

func failure(base protocol.BaseMessage, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           base.ReqID,
		Op:              base.Type,
		Code:            code,
		Message:         message,
	}
}

func vec(p [3]int) grid.Vec3i { return grid.Vec3i{X: p[0], Y: p[1], Z: p[2]} }

func stackIn(s protocol.ItemStack) items.Stack {
	return items.Stack{Item: s.Item, Count: s.Count, Meta: s.Meta}
}

func stacksIn(in []protocol.ItemStack) []items.Stack {
	out := make([]items.Stack, 0, len(in))
	for _, s := range in {
		out = append(out, stackIn(s))
	}
	return out
}

func stackObs(s items.Stack) protocol.ItemStack {
	return protocol.ItemStack{Item: s.Item, Count: s.Count, Meta: s.Meta}
}

func stacksObs(in []items.Stack) []protocol.ItemStack {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.ItemStack, 0, len(in))
	for _, s := range in {
		out = append(out, stackObs(s))
	}
	return out
}

func statsObs(queries, candidates, orientations int) *protocol.SearchStats {
	return &protocol.SearchStats{Queries: queries, Candidates: candidates, Orientations: orientations}
}

func placementObs(anchor grid.Vec3i, finger, thumb grid.Direction, cells []grid.Vec3i) *protocol.PlacementObs {
	p := &protocol.PlacementObs{Anchor: anchor.Array(), Finger: finger.String(), Thumb: thumb.String()}
	for _, c := range cells {
		p.Cells = append(p.Cells, c.Array())
	}
	return p
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
