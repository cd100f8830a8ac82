package pricing

import "github.com/hitoshi/subshare/internal/model"

// presets はランディングページの料金計算機に表示する代表的なサービス。
// 外部APIに接続できない場合のサービス一覧としても使う。
var presets = []model.ServiceInfo{
	{ID: "netflix", Name: "Netflix Premium", Color: "#E50914", MonthlyCost: 649, MaxMembers: 4},
	{ID: "spotify", Name: "Spotify Premium Family", Color: "#1DB954", MonthlyCost: 179, MaxMembers: 6},
	{ID: "youtube", Name: "YouTube Premium Family", Color: "#FF0000", MonthlyCost: 299, MaxMembers: 6},
	{ID: "disney", Name: "Disney+ Hotstar Premium", Color: "#113CCF", MonthlyCost: 299, MaxMembers: 4},
	{ID: "microsoft365", Name: "Microsoft 365 Family", Color: "#0078D4", MonthlyCost: 619, MaxMembers: 6},
	{ID: "duolingo", Name: "Duolingo Super Family", Color: "#58CC02", MonthlyCost: 720, MaxMembers: 6},
}

// Presets は料金計算機のプリセット一覧のコピーを返す。
func Presets() []model.ServiceInfo {
	out := make([]model.ServiceInfo, len(presets))
	copy(out, presets)
	return out
}

// FindPreset はIDに一致するプリセットを返す。
func FindPreset(id string) (model.ServiceInfo, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return model.ServiceInfo{}, false
}
