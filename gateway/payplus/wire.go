package payplus

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// envelope is the response wrapper used by every PayPlus endpoint.
type envelope struct {
	Results struct {
		Status      string     `json:"status"`
		Code        flexString `json:"code"`
		Description string     `json:"description"`
	} `json:"results"`
	Data json.RawMessage `json:"data"`
}

type customer struct {
	Name  string `json:"customer_name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type item struct {
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
	VatType  int         `json:"vat_type"`
}

type generateLinkRequest struct {
	PaymentPageUID      string      `json:"payment_page_uid"`
	ChargeMethod        int         `json:"charge_method"`
	Amount              json.Number `json:"amount"`
	CurrencyCode        string      `json:"currency_code"`
	MoreInfo            string      `json:"more_info"`
	MoreInfo2           string      `json:"more_info_2,omitempty"`
	MoreInfo3           string      `json:"more_info_3,omitempty"`
	CreateToken         bool        `json:"create_token"`
	RefURLSuccess       string      `json:"refURL_success"`
	RefURLFailure       string      `json:"refURL_failure"`
	RefURLCancel        string      `json:"refURL_cancel,omitempty"`
	RefURLCallback      string      `json:"refURL_callback"`
	SendFailureCallback bool        `json:"send_failure_callback"`
	ExpiryMinutes       int         `json:"expiry_datetime"`
	LanguageCode        string      `json:"language_code"`
	Customer            customer    `json:"customer"`
	Items               []item      `json:"items,omitempty"`
}

type generateLinkData struct {
	PageRequestUID  string `json:"page_request_uid"`
	PaymentPageLink string `json:"payment_page_link"`
}

type tokenChargeRequest struct {
	TerminalUID    string      `json:"terminal_uid"`
	CashierUID     string      `json:"cashier_uid,omitempty"`
	Amount         json.Number `json:"amount"`
	CurrencyCode   string      `json:"currency_code"`
	CreditTerms    int         `json:"credit_terms"`
	UseToken       bool        `json:"use_token"`
	Token          string      `json:"token"`
	CustomerUID    string      `json:"customer_uid,omitempty"`
	Customer       customer    `json:"customer"`
	InitialInvoice bool        `json:"initial_invoice"`
	MoreInfo       string      `json:"more_info"`
	MoreInfo2      string      `json:"more_info_2,omitempty"`
	MoreInfo3      string      `json:"more_info_3,omitempty"`
}

type refundRequest struct {
	TerminalUID    string      `json:"terminal_uid"`
	TransactionUID string      `json:"transaction_uid"`
	Amount         json.Number `json:"amount"`
	PartialRefund  bool        `json:"partial_refund"`
	MoreInfo       string      `json:"more_info,omitempty"`
}

// transactionData is returned by charge and refund calls.
type transactionData struct {
	TransactionUID    string     `json:"transaction_uid"`
	Status            string     `json:"status"`
	StatusCode        flexString `json:"status_code"`
	StatusDescription string     `json:"status_description"`
}

type cardInformation struct {
	FourDigits  flexString `json:"four_digits"`
	BrandName   string     `json:"brand_name"`
	ExpiryMonth flexString `json:"expiry_month"`
	ExpiryYear  flexString `json:"expiry_year"`
}

// ipn is the server-to-server callback body. PayPlus sends card data
// either flat or nested under card_information.
type ipn struct {
	TransactionUID    string      `json:"transaction_uid"`
	PageRequestUID    string      `json:"page_request_uid"`
	Type              string      `json:"type"`
	Status            string      `json:"status"`
	StatusCode        flexString  `json:"status_code"`
	StatusDescription string      `json:"status_description"`
	Amount            json.Number `json:"amount"`
	CurrencyCode      string      `json:"currency_code"`
	Token             string      `json:"token"`
	CustomerUID       string      `json:"customer_uid"`
	FourDigits        flexString  `json:"four_digits"`
	BrandName         string      `json:"brand_name"`
	ExpiryMonth       flexString  `json:"expiry_month"`
	ExpiryYear        flexString  `json:"expiry_year"`
	MoreInfo          string      `json:"more_info"`
	MoreInfo2         string      `json:"more_info_2"`
	MoreInfo3         string      `json:"more_info_3"`

	CardInformation *cardInformation `json:"card_information"`
	Customer        *struct {
		CustomerUID string `json:"customer_uid"`
	} `json:"customer"`
}

// flexString accepts both JSON strings and numbers; PayPlus is not
// consistent about codes and card fields.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return string(f) }

func (f flexString) Int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}
