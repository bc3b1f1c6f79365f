package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorName       string `json:"actor_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ActorID         string         `json:"actor_id"`
	WorldID         string         `json:"world_id"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Holdings        []ItemStack    `json:"holdings"`
}

type CatalogDigests struct {
	BlockPalette  DigestRef `json:"block_palette"`
	ItemPalette   DigestRef `json:"item_palette"`
	RecipesDigest string    `json:"recipes_digest"`
	TuningDigest  string    `json:"tuning_digest,omitempty"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type ItemStack struct {
	Item  string         `json:"item"`
	Count int            `json:"count"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// SET_CELL (client -> server)
type SetCellMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ReqID           string            `json:"req_id"`
	Pos             [3]int            `json:"pos"`
	Block           string            `json:"block"`
	State           map[string]string `json:"state,omitempty"`
	Payload         map[string]any    `json:"payload,omitempty"`
}

// GIVE (client -> server)
type GiveMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ReqID           string      `json:"req_id"`
	Items           []ItemStack `json:"items"`
}

// PROBE (client -> server). An empty RecipeID probes every recipe in id
// order and reports the first that fits.
type ProbeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	RecipeID        string `json:"recipe_id,omitempty"`
	Pos             [3]int `json:"pos"`
}

// ASSEMBLE (client -> server)
type AssembleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	RecipeID        string `json:"recipe_id"`
	Pos             [3]int `json:"pos"`
}

// CRAFT_TOKEN (client -> server). Grid is row-major; empty slots have an
// empty item.
type CraftTokenMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Grid            [3][3]ItemStack `json:"grid"`
}

// RECIPES (client -> server) lists the loaded recipe ids.
type RecipesMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

// RESULT (server -> client) answers every request.
type ResultMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ReqID           string        `json:"req_id,omitempty"`
	Op              string        `json:"op"`
	OK              bool          `json:"ok"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
	RecipeID        string        `json:"recipe_id,omitempty"`
	Placement       *PlacementObs `json:"placement,omitempty"`
	Missing         []ItemStack   `json:"missing,omitempty"`
	Holdings        []ItemStack   `json:"holdings,omitempty"`
	Entity          *EntityObs    `json:"entity,omitempty"`
	Token           *ItemStack    `json:"token,omitempty"`
	RecipeIDs       []string      `json:"recipe_ids,omitempty"`
	Digest          string        `json:"digest,omitempty"`
	Stats           *SearchStats  `json:"stats,omitempty"`
}

type PlacementObs struct {
	Anchor [3]int   `json:"anchor"`
	Finger string   `json:"finger"`
	Thumb  string   `json:"thumb"`
	Cells  [][3]int `json:"cells,omitempty"`
}

type EntityObs struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	RecipeID string         `json:"recipe_id"`
	Pos      [3]int         `json:"pos"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type SearchStats struct {
	Queries      int `json:"queries"`
	Candidates   int `json:"candidates"`
	Orientations int `json:"orientations"`
}
