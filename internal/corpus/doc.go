// Package corpus imports chunk bundles into the retrieval stores.
//
// A bundle is a JSONL file produced by external ingestion, one chunk per line:
//
//	{"chunk_id":"c1","content":"...","library":"scipy","category":"hypothesis_test",
//	 "function_name":"ttest_ind","title":"...","metadata":{...},"embedding":[...]}
//
// A load replaces the whole corpus. It writes the metadata table, the chunk
// corpus and the vector index, then bumps <data_dir>/generation so running
// daemons reload. Embeddings are taken from the bundle as-is; the loader never
// calls an embedding provider.
package corpus
