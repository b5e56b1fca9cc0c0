package featurelog

import "github.com/sarchlab/mlreplace/replacement"

// csvHeader lists the columns in the order that the offline trainer expects.
const csvHeader = "cycle,set,way,pc_sig,recency,hits,prefetch,dirty,reused,access_type,hit"

// featureRow is the database layout of a replacement.FeatureRecord. The field
// order matches csvHeader.
type featureRow struct {
	Cycle      int64
	SetIdx     int64
	Way        int64
	PCSig      int64
	Recency    int64
	Hits       int64
	Prefetch   bool
	Dirty      bool
	Reused     bool
	AccessType int64
	Hit        bool
}

func toRow(r replacement.FeatureRecord) featureRow {
	return featureRow{
		Cycle:      int64(r.Cycle),
		SetIdx:     int64(r.Set),
		Way:        int64(r.Way),
		PCSig:      int64(r.Signature),
		Recency:    int64(r.Recency),
		Hits:       int64(r.Hits),
		Prefetch:   r.Prefetch,
		Dirty:      r.Dirty,
		Reused:     r.Reused,
		AccessType: int64(r.AccessKind),
		Hit:        r.Hit,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
