package models

// ClientPersonal carries the per-client personal fields used to fill forms.
// Split variants (phone/postal/address parts) are pre-split upstream; the
// analyzer's combiners join or select them per mapped field shape.
type ClientPersonal struct {
	CompanyName   string `json:"company_name"`
	Department    string `json:"department,omitempty"`
	Position      string `json:"position,omitempty"`
	LastName      string `json:"last_name"`       // 姓
	FirstName     string `json:"first_name"`      // 名
	LastNameKana  string `json:"last_name_kana"`  // 姓カナ
	FirstNameKana string `json:"first_name_kana"` // 名カナ
	LastNameHira  string `json:"last_name_hiragana,omitempty"`
	FirstNameHira string `json:"first_name_hiragana,omitempty"`
	Gender        string `json:"gender,omitempty"` // normalized male/female/other
	Email         string `json:"email"`
	Phone1        string `json:"phone_1"`
	Phone2        string `json:"phone_2"`
	Phone3        string `json:"phone_3"`
	PostalCode1   string `json:"postal_code_1"`
	PostalCode2   string `json:"postal_code_2"`
	Address1      string `json:"address_1"` // 都道府県
	Address2     string `json:"address_2"` // 市区町村
	Address3     string `json:"address_3"` // 番地
	Address4     string `json:"address_4,omitempty"` // 建物名
	Address5     string `json:"address_5,omitempty"`
	URL          string `json:"url,omitempty"`
}

// ClientTargeting carries the campaign message bundle.
type ClientTargeting struct {
	TargetingID int64  `json:"targeting_id"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	TargetingSQL string `json:"targeting_sql,omitempty"`
	NGCompanies  string `json:"ng_companies,omitempty"`
	MaxDailySends int   `json:"max_daily_sends,omitempty"`
	SendDaysOfWeek []int `json:"send_days_of_week,omitempty"` // 0=Sunday .. 6=Saturday (JST)
	SendStartTime  string `json:"send_start_time,omitempty"`  // "HH:MM"
	SendEndTime    string `json:"send_end_time,omitempty"`    // "HH:MM"
}

// ClientConfig is the structured bundle delivered to workers via the signed
// config blob.
type ClientConfig struct {
	Client    ClientPersonal  `json:"client"`
	Targeting ClientTargeting `json:"targeting"`
}

// FullPhone joins the three phone parts without separators.
func (c *ClientPersonal) FullPhone() string {
	return c.Phone1 + c.Phone2 + c.Phone3
}

// FullPostal joins the two postal parts without the hyphen.
func (c *ClientPersonal) FullPostal() string {
	return c.PostalCode1 + c.PostalCode2
}

// FullName joins family and given name with a single space.
func (c *ClientPersonal) FullName() string {
	return c.LastName + " " + c.FirstName
}

// FullNameKana joins the kana name parts with a single space.
func (c *ClientPersonal) FullNameKana() string {
	return c.LastNameKana + " " + c.FirstNameKana
}

// FullAddress joins the address parts after the prefecture.
func (c *ClientPersonal) FullAddress() string {
	return c.Address1 + c.Address2 + c.Address3 + c.Address4 + c.Address5
}
