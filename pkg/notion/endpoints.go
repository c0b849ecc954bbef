package notion

// Notion API path templates. The transport core is agnostic to resource
// semantics; these helpers encode the endpoint shape conventions.

// SearchPath is the search endpoint. Search is a POST with the cursor
// carried as the start_cursor body field.
const SearchPath = "/v1/search"

// UsersPath lists workspace users, a paginated GET with the cursor carried
// as a query parameter.
const UsersPath = "/v1/users"

// PagePath returns the path for a single page fetch.
func PagePath(id string) string {
	return "/v1/pages/" + id
}

// PagePropertyPath returns the path for a single page property fetch.
// Property responses are paginated for multi-valued properties.
func PagePropertyPath(pageID, propertyID string) string {
	return "/v1/pages/" + pageID + "/properties/" + propertyID
}

// DatabasePath returns the path for a single database fetch.
func DatabasePath(id string) string {
	return "/v1/databases/" + id
}

// DatabaseQueryPath returns the query endpoint for a database, a POST with
// the cursor carried in the body.
func DatabaseQueryPath(id string) string {
	return "/v1/databases/" + id + "/query"
}

// BlockPath returns the path for a single block fetch.
func BlockPath(id string) string {
	return "/v1/blocks/" + id
}

// BlockChildrenPath returns the children listing for a block, a paginated
// GET with the cursor carried as a query parameter.
func BlockChildrenPath(id string) string {
	return "/v1/blocks/" + id + "/children"
}

// UserPath returns the path for a single user fetch.
func UserPath(id string) string {
	return "/v1/users/" + id
}
