package mcpserver

// NoteFormatContract describes the metadata the activation graph reads from
// and writes back to every note.
const NoteFormatContract = `# Cortex Note Format

Every note is a UTF-8 Markdown file with an optional metadata block.
The graph reads the keys below. Unknown keys are preserved.

## Structure

` + "```" + `markdown
---
title: Chaos                 # display name, matched against stimulus text
tags: [physics, état/sapling] # matched against [tag] tokens of a stimulus
poids: 50                    # base weight, defaults to 50
date_updated: 2025-01-15     # YYYY-MM-DD, refreshed when the note is saved
uid: 20250115-chaos          # optional stable identifier
score: 86.40                 # static score, written by the graph
---

Body text. Use [[Order]] to link another note by file name.
` + "```" + `

## Rules

1. **Keys are lowercase.** Values may use any language.
2. **` + "`" + `score` + "`" + ` is owned by the graph.** It is rewritten only when it drifts
   from the computed value; edits to it are overwritten.
3. **Maturity tags** multiply the static score:
   ` + "`" + `état/evergreen` + "`" + ` 1.2, ` + "`" + `état/sapling` + "`" + ` 0.8, ` + "`" + `état/graine` + "`" + ` 0.5.
   A seed with more than two outgoing links is promoted to sapling.
4. **Links** use double brackets. The target is a file name, the ` + "`" + `.md` + "`" + `
   extension is optional, ` + "`" + `[[target|alias]]` + "`" + ` is allowed.
5. **File names are unique** across the vault. On duplicates the first file in
   path order wins.
6. Notes tagged ` + "`" + `archives` + "`" + ` are never proposed for archiving again.

## Stimuli

A stimulus is free text plus an optional tag context such as
` + "`" + `[physics][entropy]` + "`" + `. Every note whose title appears in the text gains a
direct boost, every note carrying one of the context tags gains a tag boost
per matching tag.
`
