package specialaction

import (
	"fmt"

	"github.com/google/uuid"
)

// Stage identifies one selection stage. Stages always run in declaration order.
type Stage int

const (
	StageExplicitIDs Stage = iota
	StageTeamFilter
	StagePlayerRange
	StageTeamRange
	StageSpatialRange
	StageHardLimit
)

func (s Stage) String() string {
	switch s {
	case StageExplicitIDs:
		return "explicit_ids"
	case StageTeamFilter:
		return "team_filter"
	case StagePlayerRange:
		return "player_range"
	case StageTeamRange:
		return "team_range"
	case StageSpatialRange:
		return "spatial_range"
	case StageHardLimit:
		return "hard_limit"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Filter is one stage of a participant selection.
type Filter interface {
	Kind() Stage
}

// Order is the direction of a ranking.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

func (o Order) valid() bool { return o == OrderAsc || o == OrderDesc }

// PlayerSort is a participant metric a PlayerRange can rank by.
type PlayerSort string

const (
	PlayerByMoney    PlayerSort = "money"
	PlayerByInbound  PlayerSort = "inbound"
	PlayerByOutbound PlayerSort = "outbound"
	PlayerByStrength PlayerSort = "strength"
	PlayerByRandom   PlayerSort = "random"
)

func (s PlayerSort) valid() bool {
	switch s {
	case PlayerByMoney, PlayerByInbound, PlayerByOutbound, PlayerByStrength, PlayerByRandom:
		return true
	}
	return false
}

// TeamSort is a team metric a TeamRange can rank by.
type TeamSort string

const (
	TeamByMoney     TeamSort = "money"
	TeamByProducers TeamSort = "producers"
	TeamByInbound   TeamSort = "inbound"
	TeamByOutbound  TeamSort = "outbound"
	TeamByStrength  TeamSort = "strength"
	TeamByDefence   TeamSort = "defence"
	TeamByRandom    TeamSort = "random"
)

func (s TeamSort) valid() bool {
	switch s {
	case TeamByMoney, TeamByProducers, TeamByInbound, TeamByOutbound, TeamByStrength, TeamByDefence, TeamByRandom:
		return true
	}
	return false
}

// ExplicitIDs restricts the selection to the listed participants.
type ExplicitIDs struct {
	IDs []uuid.UUID `json:"ids"`
}

// TeamFilter keeps participants belonging to one of the listed teams.
type TeamFilter struct {
	TeamIDs []uuid.UUID `json:"team_ids"`
}

// PlayerRange keeps the top Limit participants ranked by OrderBy.
type PlayerRange struct {
	OrderBy PlayerSort `json:"order_by"`
	Order   Order      `json:"order"`
	Limit   int        `json:"limit"`
}

// TeamRange ranks the teams of the remaining participants and keeps members
// of the top Limit teams.
type TeamRange struct {
	OrderBy TeamSort `json:"order_by"`
	Order   Order    `json:"order"`
	Limit   int      `json:"limit"`
}

// SpatialRange keeps participants inside (or outside) Radius meters of the
// requester.
type SpatialRange struct {
	Radius float64 `json:"radius"`
	Inside bool    `json:"inside"`
}

// HardLimit caps the number of selected participants.
type HardLimit struct {
	Limit int `json:"limit"`
}

func (ExplicitIDs) Kind() Stage  { return StageExplicitIDs }
func (TeamFilter) Kind() Stage   { return StageTeamFilter }
func (PlayerRange) Kind() Stage  { return StagePlayerRange }
func (TeamRange) Kind() Stage    { return StageTeamRange }
func (SpatialRange) Kind() Stage { return StageSpatialRange }
func (HardLimit) Kind() Stage    { return StageHardLimit }

// Selection describes which participants a special action applies to.
// Unset stages are skipped.
type Selection struct {
	IDs         *ExplicitIDs  `json:"ids,omitempty"`
	Teams       *TeamFilter   `json:"teams,omitempty"`
	Players     *PlayerRange  `json:"players,omitempty"`
	TeamRanking *TeamRange    `json:"team_ranking,omitempty"`
	Area        *SpatialRange `json:"area,omitempty"`
	Cap         *HardLimit    `json:"cap,omitempty"`
}

// Stages returns the configured stages in execution order.
func (s Selection) Stages() []Filter {
	var out []Filter
	if s.IDs != nil {
		out = append(out, *s.IDs)
	}
	if s.Teams != nil {
		out = append(out, *s.Teams)
	}
	if s.Players != nil {
		out = append(out, *s.Players)
	}
	if s.TeamRanking != nil {
		out = append(out, *s.TeamRanking)
	}
	if s.Area != nil {
		out = append(out, *s.Area)
	}
	if s.Cap != nil {
		out = append(out, *s.Cap)
	}
	return out
}
