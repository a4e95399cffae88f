package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func searchByNameTool() mcp.Tool {
	return mcp.NewTool("search_by_name",
		mcp.WithDescription("Search the detainee locator by personal details. Requires the full name, date of birth, and country of birth; returns matching custody records with confidence scores."),
		mcp.WithString("first_name",
			mcp.Required(),
			mcp.Description("Given name as it would appear in custody records"),
		),
		mcp.WithString("last_name",
			mcp.Required(),
			mcp.Description("Family name as it would appear in custody records"),
		),
		mcp.WithString("middle_name",
			mcp.Description("Middle name, if known"),
		),
		mcp.WithString("date_of_birth",
			mcp.Required(),
			mcp.Description("Date of birth in YYYY-MM-DD form"),
		),
		mcp.WithString("country_of_birth",
			mcp.Required(),
			mcp.Description("Country of birth, matched against the locator's country list"),
		),
		mcp.WithString("language",
			mcp.Description("Response language"),
			mcp.Enum("en", "es"),
		),
		mcp.WithBoolean("fuzzy",
			mcp.Description("Enable approximate name matching for transliteration and typo variants"),
		),
		mcp.WithNumber("confidence_threshold",
			mcp.Description("Minimum match confidence between 0 and 1; lower-scoring candidates are dropped"),
		),
		mcp.WithNumber("date_tolerance_days",
			mcp.Description("Accept dates of birth within this many days of the query date"),
		),
	)
}

func searchByAlienNumberTool() mcp.Tool {
	return mcp.NewTool("search_by_alien_number",
		mcp.WithDescription("Look up a detainee by A-Number. The identifier is normalized before submission and results are verified against it."),
		mcp.WithString("alien_number",
			mcp.Required(),
			mcp.Description("A-Number, 7 to 9 digits, with or without the leading A"),
		),
		mcp.WithString("language",
			mcp.Description("Response language"),
			mcp.Enum("en", "es"),
		),
	)
}

func searchByFacilityTool() mcp.Tool {
	return mcp.NewTool("search_by_facility",
		mcp.WithDescription("List detainees held at a facility. Identify the facility by name (wildcards * and ? allowed), by city and state, or by ZIP code."),
		mcp.WithString("facility_name",
			mcp.Description("Facility name or wildcard pattern, e.g. \"Houston*\""),
		),
		mcp.WithString("city",
			mcp.Description("Facility city; requires state"),
		),
		mcp.WithString("state",
			mcp.Description("Two-letter state code; requires city"),
		),
		mcp.WithString("zip_code",
			mcp.Description("Facility ZIP code"),
		),
		mcp.WithString("facility_type",
			mcp.Description("Restrict to one facility type"),
		),
		mcp.WithBoolean("active_only",
			mcp.Description("Only return detainees currently in custody"),
		),
	)
}

func bulkSearchTool() mcp.Tool {
	return mcp.NewTool("bulk_search",
		mcp.WithDescription("Run up to 10 searches in one call. Results come back in input order; each slot holds either a search result or an error envelope."),
		mcp.WithArray("searches",
			mcp.Required(),
			mcp.Description("Search objects, 1 to 10. Each takes the same fields as the single-search tools plus an optional \"kind\" of by_name, by_alien_number, or by_facility; without it the kind is inferred from the fields present"),
		),
		mcp.WithNumber("max_concurrent",
			mcp.Description("Sessions to run in parallel, 1 to 5"),
		),
		mcp.WithBoolean("stop_on_error",
			mcp.Description("Skip remaining searches after the first failure"),
		),
	)
}

func parseNaturalQueryTool() mcp.Tool {
	return mcp.NewTool("parse_natural_query",
		mcp.WithDescription("Parse a natural-language request such as \"find Maria Gonzalez from Honduras born around 1990\" into a structured search, reporting which required fields are still missing."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text description of the person or facility to search for"),
		),
		mcp.WithString("language",
			mcp.Description("Language of the query text"),
			mcp.Enum("en", "es"),
		),
		mcp.WithBoolean("auto_execute",
			mcp.Description("Run the search immediately when parsing yields a complete query"),
		),
		mcp.WithNumber("confidence_threshold",
			mcp.Description("Minimum match confidence applied when the search executes"),
		),
	)
}
