package mcpserver

// SearchGuide tells LLM consumers how to read semantic search output.
const SearchGuide = `# semdex Search Guide

semdex indexes the text documents of one vault as embedding vectors and
answers natural-language queries by cosine similarity.

## Tools

- ` + "`semantic_search`" + ` takes a free-text query. Phrase it the way the answer
  would be written, not as keywords. Optional ` + "`top_k`" + ` (1-50), ` + "`min_score`" + `
  (-1..1) and ` + "`max_context`" + ` (snippet characters) override the configured
  defaults.
- ` + "`read_document`" + ` returns the full current text of a file plus its title,
  tags, wikilinks and the line ranges of its indexed chunks.
- ` + "`index_status`" + ` reports whether the index is loaded, how many files and
  chunks it holds, and the last error.
- ` + "`reindex_file`" + ` re-embeds one file after it was edited.
- ` + "`rebuild_index`" + ` recomputes everything. It is slow and calls the embedding
  provider for every chunk; use it only when status says a rebuild is needed.

## Reading results

Each result carries a ` + "`path`" + `, the ` + "`heading`" + ` of the section it came from,
a ` + "`score`" + ` and a ` + "`snippet`" + `. Snippets are read from the file at query time,
so they reflect the current content. A line containing only "…" means the
snippet was cut before the section boundary; call ` + "`read_document`" + ` with the
path and use ` + "`startLine`" + `/` + "`endLine`" + ` to see more.

Scores are relative. Compare them within one result list, not across
queries or models.

## Errors

- "index is busy": another operation holds the index; retry shortly.
- "please rebuild the index": the stored index was built with another model
  or format; call ` + "`rebuild_index`" + `.
- "not found" on search: no index exists yet; call ` + "`rebuild_index`" + `.
`
