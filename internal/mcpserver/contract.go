package mcpserver

// DocumentFormatContract describes the canonical document format that
// LLM consumers should follow when creating or updating nodes.
const DocumentFormatContract = `# Lattice Document Format Contract

Every document node stored in Lattice follows this structure.

## Structure

` + "```" + `markdown
---
id: node-1737370000-a1b2c3d4e    # assigned by the service; never change it
title: Human-readable title       # display name in graph and search
type: file                        # "file" for documents, "folder" for containers
created: 2025-01-20T10:00:00Z     # RFC 3339, UTC
modified: 2025-01-20T10:00:00Z    # updated by the service on every write
links: [node-1737370000-f5e6d7c8b]  # soft-link target ids
task:                             # optional nested task object
  status: todo
  priority: medium
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **The frontmatter block is line-oriented.** ` + "`" + `---` + "`" + ` fences must be the
   first thing in the document; each field is one ` + "`" + `key: value` + "`" + ` line.
2. **The ` + "`" + `id` + "`" + ` field is owned by the service.** It is assigned at
   creation and survives renames and moves; never edit or invent ids.
3. **Values are scalars or flat lists.** Lists use the ` + "`" + `[a, b]` + "`" + ` form.
   The only nested object is ` + "`" + `task` + "`" + `, indented by two spaces.
4. **Task fields:** ` + "`" + `status` + "`" + ` is one of todo, in-progress, review, done,
   archived; ` + "`" + `priority` + "`" + ` is one of low, medium, high, urgent. Optional:
   assignee, dueDate, completedDate, description.
5. **Soft links target ids, not paths**, so they survive moves. Hard
   structure comes from the path alone; never encode hierarchy in metadata.
6. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes. Names must not
   contain ` + "`" + `< > : " / \ | ? *` + "`" + `.
7. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
id: node-1737370000-a1b2c3d4e
title: Release checklist
type: file
created: 2025-01-20T10:00:00Z
modified: 2025-01-21T09:30:00Z
task:
  status: in-progress
  priority: high
  assignee: dana
---

# Release checklist

- [ ] cut the branch
- [ ] verify migration scripts
` + "```" + `
`
