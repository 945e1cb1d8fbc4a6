package domain

// DefaultKnownModels seeds the comparison detector with common Korean
// marketplace model names before any catalog has been ingested. Ingested
// records extend this list at runtime.
var DefaultKnownModels = []string{
	// Hyundai
	"아반떼", "쏘나타", "그랜저", "코나", "투싼", "싼타페", "팰리세이드",
	"캐스퍼", "아이오닉 5", "아이오닉 6", "스타리아", "포터",
	// Kia
	"모닝", "레이", "K3", "K5", "K8", "K9", "셀토스", "니로", "스포티지",
	"쏘렌토", "카니발", "EV6", "EV9",
	// Genesis
	"G70", "G80", "G90", "GV60", "GV70", "GV80",
	// KGM / Chevrolet / Renault
	"토레스", "렉스턴", "티볼리", "트랙스", "트레일블레이저", "QM6", "XM3",
}
