package pipeline

// System prompts are fixed per phase and sent with a cache breakpoint, so
// repeated batch calls within a run hit the warm prompt cache.

const structureSystemText = `You are a menu digitization analyst. You partition restaurant menu documents into named sections. Always return valid JSON matching the requested schema, with no commentary.`

const structurePrompt = `Analyze the attached menu documents and partition them into sections.

Allowed section/category vocabulary:
%s

Source documents:
%s

Return a bare JSON array of sections:
[{"name": "<section name>", "document_locations": [{"document_id": "<id>", "page_numbers": [1], "sheet_names": ["Sheet1"]}], "estimated_item_count": <int>, "confidence": <0.0-1.0>}]

Rules:
- Every document listed above must be referenced by at least one section.
- Use page_numbers for PDF and image documents, sheet_names for spreadsheets.
- estimated_item_count is your best estimate of distinct menu items in the section.`

const extractSystemText = `You are a menu data extractor. You read one fragment of a restaurant menu and return every distinct purchasable item as JSON. Always return a bare JSON array, with no commentary and no markdown fences.`

const extractPrompt = `Extract every menu item from this content. The content belongs to the menu section %q.

Allowed categories: %s
Allowed sizes: %s

Return a bare JSON array:
[{"name": "<item name>", "description": "<description or empty>", "price": <number>, "category": "<one of the allowed categories>"}]

Rules:
- One entry per distinct item. Do not invent items that are not present.
- price is the base price as a number without currency symbols; use 0 if no price is shown.

Content:
%s`

const enrichSystemText = `You are a menu data enricher. You add size options and modifier groups to already-extracted menu items. Always return a bare JSON array, with no commentary and no markdown fences.`

const enrichSinglePrompt = `The attached documents are the source menu. Below are the items already extracted from it, each with a numeric id.

Items:
%s

For each item, identify its size options and modifier groups from the source menu. Allowed sizes: %s

Return a bare JSON array with one entry per item, referencing items by id only:
[{"id": <item id>, "sizes": [{"size": "<allowed size>", "price": <number>, "is_default": <bool>}], "modifier_groups": [{"name": "<group name>", "options": ["<choice>"], "required": <bool>, "multi_select": <bool>}]}]

Rules:
- Do not repeat item names or descriptions in the response.
- If an item has a single price and no size variants, return one size "N/A" at that price with is_default true.
- Omit nothing: every id in the input appears exactly once in the output.`

const enrichBatchPrompt = `Below is a batch of extracted menu items, each with a numeric id.

Items:
%s

Modifier groups already identified in earlier batches of this menu:
%s

For each item, identify its size options and modifier groups. Allowed sizes: %s

Return a bare JSON array with one entry per item, referencing items by id only:
[{"id": <item id>, "sizes": [{"size": "<allowed size>", "price": <number>, "is_default": <bool>}], "modifier_groups": [{"name": "<group name>", "options": ["<choice>"], "required": <bool>, "multi_select": <bool>}]}]

Rules:
- When an item uses a modifier group that matches one already identified, reuse that group's exact name instead of inventing a variant spelling.
- If an item has a single price and no size variants, return one size "N/A" at that price with is_default true.`
