// Package assetcache maintains a content-addressed cache of game asset
// files and exchanges character data archives built from it.
//
// A [Service] wires the pieces together:
//   - a content index mapping SHA-1 content hashes to files on disk
//     ([index], backed by bbolt, PostgreSQL or memory)
//   - the flat cache directory with access-time eviction ([cache/disk])
//   - a background scanner that reconciles the index with the source tree
//     and the cache directory ([scan])
//   - the archive manager that saves, inspects and applies character
//     archives ([charafile], using the [archive] codec)
//
// # Quick Start
//
// Run the scanner until the context is cancelled:
//
//	store, err := config.Open("assetcache.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := assetcache.New(ctx, store, assetcache.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
//
// Apply an archive:
//
//	loaded, err := svc.Archives().Load("outfit.mcdf")
//	if err != nil {
//	    return err
//	}
//	app, err := svc.Archives().Apply(ctx, "Target Name", loaded)
//
// # Downloads
//
// Files arriving from elsewhere go through [Service.Import], which publishes
// download notifications on the event bus. The scanner yields to imports in
// flight and re-scans once they finish.
package assetcache
