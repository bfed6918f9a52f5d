package model

// Business is one inspected food establishment from the FHRS feed. Optional
// columns are nil when the feed left them blank.
type Business struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Address1       *string `json:"address_1"`
	Address2       *string `json:"address_2"`
	Address3       *string `json:"address_3"`
	Address4       *string `json:"address_4"`
	Postcode       *string `json:"postcode"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LocalAuthority *string `json:"local_authority"`
	Pending        *string `json:"pending"`
	Date           *string `json:"date"`
	Scheme         *string `json:"scheme"`
	RatingKey      *string `json:"rating_key"`
	RatingValue    *string `json:"rating_value"`
}

// BusinessColumns is the column order used when writing businesses in bulk.
var BusinessColumns = []string{
	"id", "name",
	"address_1", "address_2", "address_3", "address_4",
	"postcode", "latitude", "longitude", "local_authority",
	"pending", "date", "scheme", "rating_key", "rating_value",
}

// Values returns the business fields in BusinessColumns order.
func (b Business) Values() []any {
	return []any{
		b.ID, b.Name,
		b.Address1, b.Address2, b.Address3, b.Address4,
		b.Postcode, b.Latitude, b.Longitude, b.LocalAuthority,
		b.Pending, b.Date, b.Scheme, b.RatingKey, b.RatingValue,
	}
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
