// Package category maps merchant category codes and free-text
// descriptions to a (category, direction) pair. It is a pure lookup:
// no I/O, no state, safe to call from anywhere.
package category

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
)

// Category names produced by the engine.
const (
	Food          = "food"
	Transport     = "transport"
	Entertainment = "entertainment"
	Shopping      = "shopping"
	Health        = "health"
	Utilities     = "utilities"
	Education     = "education"
	Income        = "income"
	Other         = "other"
)

// All lists every category name the engine can produce.
func All() []string {
	return []string{Food, Transport, Entertainment, Shopping, Health, Utilities, Education, Income, Other}
}

// Known reports whether name is one of the engine's categories.
func Known(name string) bool {
	for _, c := range All() {
		if c == name {
			return true
		}
	}
	return false
}

// mccEntry is one row of the static MCC lookup table.
type mccEntry struct {
	category  string
	direction domain.Direction
}

// mccTable covers the codes that actually show up in card statements.
// ISO 18245 assigns thousands of codes; anything absent falls through
// to the keyword classifiers.
var mccTable = map[int]mccEntry{
	// Food and groceries
	5411: {Food, domain.DirectionExpense}, // grocery stores
	5422: {Food, domain.DirectionExpense}, // meat markets
	5441: {Food, domain.DirectionExpense}, // candy and confectionery
	5462: {Food, domain.DirectionExpense}, // bakeries
	5499: {Food, domain.DirectionExpense}, // misc food stores
	5811: {Food, domain.DirectionExpense}, // caterers
	5812: {Food, domain.DirectionExpense}, // restaurants
	5813: {Food, domain.DirectionExpense}, // bars
	5814: {Food, domain.DirectionExpense}, // fast food

	// Transport
	4111: {Transport, domain.DirectionExpense}, // local commuter transport
	4121: {Transport, domain.DirectionExpense}, // taxis and rideshare
	4131: {Transport, domain.DirectionExpense}, // bus lines
	4511: {Transport, domain.DirectionExpense}, // airlines
	4789: {Transport, domain.DirectionExpense}, // transport services
	5541: {Transport, domain.DirectionExpense}, // service stations
	5542: {Transport, domain.DirectionExpense}, // automated fuel dispensers
	7523: {Transport, domain.DirectionExpense}, // parking

	// Entertainment
	5815: {Entertainment, domain.DirectionExpense}, // digital media
	5816: {Entertainment, domain.DirectionExpense}, // digital games
	7832: {Entertainment, domain.DirectionExpense}, // cinemas
	7922: {Entertainment, domain.DirectionExpense}, // theatre and concerts
	7941: {Entertainment, domain.DirectionExpense}, // sports clubs
	7997: {Entertainment, domain.DirectionExpense}, // membership clubs

	// Shopping
	5311: {Shopping, domain.DirectionExpense}, // department stores
	5399: {Shopping, domain.DirectionExpense}, // general merchandise
	5651: {Shopping, domain.DirectionExpense}, // clothing
	5661: {Shopping, domain.DirectionExpense}, // shoe stores
	5732: {Shopping, domain.DirectionExpense}, // electronics
	5942: {Shopping, domain.DirectionExpense}, // book stores
	5999: {Shopping, domain.DirectionExpense}, // misc retail

	// Health
	5912: {Health, domain.DirectionExpense}, // pharmacies
	8011: {Health, domain.DirectionExpense}, // doctors
	8021: {Health, domain.DirectionExpense}, // dentists
	8062: {Health, domain.DirectionExpense}, // hospitals
	8099: {Health, domain.DirectionExpense}, // medical services

	// Utilities and housing
	4814: {Utilities, domain.DirectionExpense}, // telecom
	4899: {Utilities, domain.DirectionExpense}, // cable and internet
	4900: {Utilities, domain.DirectionExpense}, // electric, gas, water
	6513: {Utilities, domain.DirectionExpense}, // rent

	// Education
	8211: {Education, domain.DirectionExpense}, // schools
	8220: {Education, domain.DirectionExpense}, // universities
	8299: {Education, domain.DirectionExpense}, // educational services
}

// keywordRule matches a description against a category. Keywords are
// lowercase; matching is case-insensitive substring search, which
// handles both Latin and Cyrillic descriptions.
type keywordRule struct {
	category  string
	direction domain.Direction
	keywords  []string
}

// keywordRules are evaluated in order; the first hit wins. Income
// keywords run last among the rules so that e.g. "refund for taxi"
// still lands on transport.
var keywordRules = []keywordRule{
	{Food, domain.DirectionExpense, []string{
		"restaurant", "cafe", "coffee", "pizza", "sushi", "burger",
		"mcdonald", "kfc", "grocery", "supermarket", "bakery",
		"ресторан", "кафе", "кава", "піца", "суші", "продукти",
		"сільпо", "атб", "фора", "їжа",
	}},
	{Transport, domain.DirectionExpense, []string{
		"uber", "bolt", "taxi", "metro", "train", "bus", "fuel",
		"petrol", "parking", "wog", "okko",
		"таксі", "метро", "поїзд", "автобус", "пальне", "бензин", "парковка",
	}},
	{Entertainment, domain.DirectionExpense, []string{
		"cinema", "netflix", "spotify", "steam", "playstation",
		"theatre", "concert", "museum",
		"кіно", "театр", "концерт", "музей", "розваги",
	}},
	{Shopping, domain.DirectionExpense, []string{
		"amazon", "aliexpress", "zara", "h&m", "mall", "store", "shop",
		"rozetka", "магазин", "одяг", "взуття", "покупк",
	}},
	{Health, domain.DirectionExpense, []string{
		"pharmacy", "clinic", "hospital", "dentist", "doctor", "medical",
		"аптека", "лікар", "лікарня", "клініка", "стоматолог",
	}},
	{Utilities, domain.DirectionExpense, []string{
		"electricity", "water bill", "gas bill", "internet", "mobile",
		"rent", "vodafone", "kyivstar", "lifecell",
		"комунал", "оренда", "світло", "інтернет", "зв'язок",
	}},
	{Education, domain.DirectionExpense, []string{
		"course", "university", "school", "tuition", "udemy", "coursera",
		"курс", "університет", "школа", "навчання",
	}},
	{Income, domain.DirectionIncome, []string{
		"salary", "payroll", "dividend", "interest payment", "refund",
		"cashback", "зарплат", "аванс", "дохід", "повернення", "кешбек",
	}},
}

// Categorize resolves a (category, direction) pair for a transaction.
//
// Priority: exact MCC lookup, then keyword classifiers over the
// description, then a positive signed amount defaults to income, and
// finally (other, expense). amount carries the provider sign
// convention: positive means money in.
func Categorize(mcc int, description string, amount decimal.Decimal) (string, domain.Direction) {
	if entry, ok := mccTable[mcc]; ok {
		return entry.category, entry.direction
	}

	desc := strings.ToLower(description)
	if desc != "" {
		for _, rule := range keywordRules {
			for _, kw := range rule.keywords {
				if strings.Contains(desc, kw) {
					return rule.category, rule.direction
				}
			}
		}
	}

	if amount.IsPositive() {
		return Other, domain.DirectionIncome
	}
	return Other, domain.DirectionExpense
}
