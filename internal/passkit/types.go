package passkit

// TierID is the single wallet tier every member is enrolled into.
const TierID = "membership"

// StatusCancelled is the member status written on cancellation.
const StatusCancelled = "CANCELLED"

// Person is the card holder.
type Person struct {
	Forename     string `json:"forename,omitempty"`
	Surname      string `json:"surname,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	MobileNumber string `json:"mobileNumber,omitempty"`
}

// Member is the upsert payload for a wallet membership record.
type Member struct {
	ID         string            `json:"id,omitempty"`
	ProgramID  string            `json:"programId"`
	TierID     string            `json:"tierId"`
	ExternalID string            `json:"externalId"`
	Status     string            `json:"status,omitempty"`
	Person     *Person           `json:"person,omitempty"`
	MetaData   map[string]string `json:"metaData,omitempty"`
}

// MemberRef is the reference recovered from any member payload. Person and
// MetaData are set only when the payload carried a full member record.
type MemberRef struct {
	ID         string            `json:"id"`
	Email      string            `json:"email,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
	Status     string            `json:"status,omitempty"`
	Person     *Person           `json:"person,omitempty"`
	MetaData   map[string]string `json:"metaData,omitempty"`
}

// Filter is a single equality filter for a member search.
type Filter struct {
	Field string
	Value string
}

type searchRequest struct {
	Filters searchFilters `json:"filters"`
}

type searchFilters struct {
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
	OrderBy      string        `json:"orderBy"`
	OrderAsc     bool          `json:"orderAsc"`
	FilterGroups []filterGroup `json:"filterGroups"`
}

type filterGroup struct {
	Condition    string        `json:"condition"`
	FieldFilters []fieldFilter `json:"fieldFilters"`
}

type fieldFilter struct {
	FilterField    string `json:"filterField"`
	FilterValue    string `json:"filterValue"`
	FilterOperator string `json:"filterOperator"`
}

// newestMatch asks for the single most recently updated member matching f.
func newestMatch(f Filter) searchRequest {
	return searchRequest{Filters: searchFilters{
		Limit:    1,
		OrderBy:  "updated",
		OrderAsc: false,
		FilterGroups: []filterGroup{{
			Condition: "AND",
			FieldFilters: []fieldFilter{{
				FilterField:    f.Field,
				FilterValue:    f.Value,
				FilterOperator: "eq",
			}},
		}},
	}}
}
