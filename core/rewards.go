package core

// RewardTable is the XP granted per activity.
type RewardTable struct {
	Entry    int64 `json:"entry"`
	PerImage int64 `json:"per_image"`
	Share    int64 `json:"share"`
	Comment  int64 `json:"comment"`
	Reaction int64 `json:"reaction"`
	TeamJoin int64 `json:"team_join"`
}

// DefaultRewards mirrors the stock XP values.
func DefaultRewards() RewardTable {
	return RewardTable{
		Entry:    10,
		PerImage: 5,
		Share:    5,
		Comment:  2,
		Reaction: 1,
	}
}

// ForEntry is the XP earned by logging e.
func (r RewardTable) ForEntry(e ProgressEntry) int64 {
	return r.Entry + int64(len(e.Images))*r.PerImage
}

// ForInteraction is the XP earned by one interaction of kind k.
func (r RewardTable) ForInteraction(k InteractionKind) int64 {
	switch k {
	case InteractionShare:
		return r.Share
	case InteractionComment:
		return r.Comment
	case InteractionReaction:
		return r.Reaction
	case InteractionTeamJoin:
		return r.TeamJoin
	default:
		return 0
	}
}
