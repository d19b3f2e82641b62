// Package bundle produces the distribution directory: it generates the
// per-build identifier, copies assets under fingerprinted names, rewrites
// the host document to reference them, and swaps the finished directory
// into place.
//
// A build looks like:
//
//	dist := bundle.NewDist("build", "build/dist")
//	dist.Clean()
//	staging, _ := dist.Stage()
//	fp, _ := bundle.NewFingerprinter(bundle.NewBuildID(src), staging)
//	doc, entries, err := fp.ApplyAll(bundle.NewDocument(html), assets)
//	if err != nil {
//	    dist.Discard()
//	}
//	dist.Commit(doc, "index.html")
//
// Document is a value: every Replace returns a new Document, so the order in
// which assets are applied is explicit at the call site.
package bundle
