package client

// OperationName is the GraphQL operation used for every listing query.
const OperationName = "GET_EVENT_LISTINGS"

const listingsQuery = `
query GET_EVENT_LISTINGS($filters: FilterInputDtoInput, $page: Int, $pageSize: Int) {
	eventListings(filters: $filters, pageSize: $pageSize, page: $page) {
		data {
			id
			listingDate
			event {
				id
				title
				date
				startTime
				endTime
				venue {
					id
					name
				}
				artists {
					id
					name
				}
				genres {
					id
					name
				}
				cost
				isFestival
				lineup
				attending
			}
		}
		totalResults
	}
}
`

type dateRange struct {
	GTE string `json:"gte"`
	LTE string `json:"lte"`
}

type listingFilters struct {
	ListingDate dateRange `json:"listingDate"`
}

type queryVariables struct {
	Filters  listingFilters `json:"filters"`
	PageSize int            `json:"pageSize"`
	Page     int            `json:"page"`
}

// requestBody is the fixed-shape body POSTed to the API.
type requestBody struct {
	OperationName string         `json:"operationName"`
	Variables     queryVariables `json:"variables"`
	Query         string         `json:"query"`
}

func newRequestBody(gte, lte string, pageSize, page int) requestBody {
	return requestBody{
		OperationName: OperationName,
		Variables: queryVariables{
			Filters:  listingFilters{ListingDate: dateRange{GTE: gte, LTE: lte}},
			PageSize: pageSize,
			Page:     page,
		},
		Query: listingsQuery,
	}
}

// responseEnvelope mirrors data.eventListings{data,totalResults}. Pointers
// distinguish a missing envelope from an empty one.
type responseEnvelope struct {
	Data *struct {
		EventListings *struct {
			Data         []Listing `json:"data"`
			TotalResults int       `json:"totalResults"`
		} `json:"eventListings"`
	} `json:"data"`
}
