package run

// Stats 聚合了运行记录的状态统计，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(r *Run) {
	s.Total++
	switch r.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if r.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = r.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (r.UpdatedAt != 0 && r.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = r.UpdatedAt
	}
}
