// Package accessory persists the HomeKit accessory records the bridge has
// published, so the same accessories can be restored on the next start.
//
// A record pairs one hub device value (device id + value index) with a
// stable accessory UUID derived from those ids. The Registry wraps the
// SQLite repository with a thread-safe cache; the platform controller uses
// it as its accessory cache during reconciliation.
//
//	repo := accessory.NewSQLiteRepository(db.DB)
//	reg := accessory.NewRegistry(repo)
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
package accessory
