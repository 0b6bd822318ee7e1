package scene

// RenderType is the render family a scene object asks for.
type RenderType int

const (
	RenderSimple RenderType = iota
	RenderAlpha
	RenderBump
	RenderMaterials
	RenderFullBright
	RenderGlow
	RenderWater
	RenderSky
	RenderGround
	RenderTerrain
	RenderTree
	RenderGrass
	RenderAvatar
	RenderHUD
)

var renderTypeNames = [...]string{
	RenderSimple:     "simple",
	RenderAlpha:      "alpha",
	RenderBump:       "bump",
	RenderMaterials:  "materials",
	RenderFullBright: "fullbright",
	RenderGlow:       "glow",
	RenderWater:      "water",
	RenderSky:        "sky",
	RenderGround:     "ground",
	RenderTerrain:    "terrain",
	RenderTree:       "tree",
	RenderGrass:      "grass",
	RenderAvatar:     "avatar",
	RenderHUD:        "hud",
}

func (t RenderType) String() string {
	if t >= 0 && int(t) < len(renderTypeNames) {
		return renderTypeNames[t]
	}
	return "unknown"
}

// PartitionType selects which spatial partition a drawable lives in.
type PartitionType int

const (
	PartitionVolume PartitionType = iota
	PartitionBridge
	PartitionHUD
	PartitionTerrain
	PartitionTree
	PartitionGrass
	PartitionWater
	PartitionAttachment
	PartitionAvatar
	PartitionCount
)

var partitionNames = [...]string{
	PartitionVolume:     "volume",
	PartitionBridge:     "bridge",
	PartitionHUD:        "hud",
	PartitionTerrain:    "terrain",
	PartitionTree:       "tree",
	PartitionGrass:      "grass",
	PartitionWater:      "water",
	PartitionAttachment: "attachment",
	PartitionAvatar:     "avatar",
}

func (p PartitionType) String() string {
	if p >= 0 && p < PartitionCount {
		return partitionNames[p]
	}
	return "unknown"
}

// RenderByDrawable is decided per partition type, never per call.
func (p PartitionType) RenderByDrawable() bool {
	switch p {
	case PartitionBridge, PartitionHUD, PartitionAttachment, PartitionAvatar:
		return true
	}
	return false
}

// PerTexture partitions key their pools by texture identity.
func (p PartitionType) PerTexture() bool {
	return p == PartitionTerrain || p == PartitionTree
}

// Occludable partitions take part in occlusion queries.
func (p PartitionType) Occludable() bool {
	switch p {
	case PartitionHUD, PartitionAvatar, PartitionAttachment:
		return false
	}
	return true
}

// PartitionFor maps a render type to its default partition.
func PartitionFor(t RenderType) PartitionType {
	switch t {
	case RenderHUD:
		return PartitionHUD
	case RenderTerrain:
		return PartitionTerrain
	case RenderTree:
		return PartitionTree
	case RenderGrass:
		return PartitionGrass
	case RenderWater:
		return PartitionWater
	case RenderAvatar:
		return PartitionAvatar
	}
	return PartitionVolume
}

// StateFlags is the drawable state bitmask.
type StateFlags uint32

const (
	Built StateFlags = 1 << iota
	InRebuildQueue
	OnMoveList
	ForceInvisible
	EarlyMove
	AnimatedChild
	PartitionMove
)

func (s StateFlags) Has(f StateFlags) bool { return s&f != 0 }

// OcclusionState is a group's position in the occlusion query state machine.
type OcclusionState uint8

const (
	Untested OcclusionState = iota
	QueryPending
	Occluded
	Visible
)

var occlusionNames = [...]string{"untested", "pending", "occluded", "visible"}

func (s OcclusionState) String() string {
	if int(s) < len(occlusionNames) {
		return occlusionNames[s]
	}
	return "unknown"
}
