package mirror

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/moneta-app/moneta/internal/domain"
)

// TransactionToNotionProperties converts a ledger transaction to the
// properties of the Transactions database.
func TransactionToNotionProperties(t *domain.Transaction) notionapi.Properties {
	amount, _ := t.SignedAmount().Float64()

	props := notionapi.Properties{
		"Description": notionapi.TitleProperty{
			Title: []notionapi.RichText{richText(t.Description)},
		},
		"Transaction ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(t.ID)},
		},
		"Amount": notionapi.NumberProperty{
			Number: amount,
		},
		"Direction": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(t.Direction)},
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: notionDate(t.Date)},
		},
	}

	if t.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: t.Category},
		}
	}
	if t.AccountID != "" {
		props["Account ID"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(t.AccountID)},
		}
	}
	return props
}

// AccountToNotionProperties converts an account to the properties of
// the Accounts database.
func AccountToNotionProperties(a *domain.Account) notionapi.Properties {
	balance, _ := a.Balance.Float64()

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{richText(a.Name)},
		},
		"Account ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(a.ID)},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(a.Type)},
		},
		"Balance": notionapi.NumberProperty{
			Number: balance,
		},
	}

	if a.Currency != "" {
		props["Currency"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: a.Currency},
		}
	}
	return props
}

func richText(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

func notionDate(t time.Time) *notionapi.Date {
	d := notionapi.Date(t)
	return &d
}
