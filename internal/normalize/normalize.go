// Package normalize flattens CAS statement documents into scheme and
// transaction records.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/logging"
	"cas-valuer/internal/models"
)

// Level selects which node of the tree a field is read from.
type Level int

const (
	LevelFolio Level = iota
	LevelScheme
	LevelTransaction
)

// FieldMapping copies the value at Path, evaluated on the node at Level, to
// the Target field of a flat record.
type FieldMapping struct {
	Target   string
	Level    Level
	Path     string
	Required bool
}

// Projection describes how flat transactions are derived from a statement:
// three unwind paths walking folio -> scheme -> transaction, then a list of
// field mappings.
type Projection struct {
	Folios       string
	Schemes      string
	Transactions string
	Fields       []FieldMapping
}

// DefaultProjection returns the projection for casparser output.
func DefaultProjection() *Projection {
	return &Projection{
		Folios:       "$.folios",
		Schemes:      "$.schemes",
		Transactions: "$.transactions",
		Fields: []FieldMapping{
			{Target: "folio", Level: LevelFolio, Path: "$.folio"},
			{Target: "amfi", Level: LevelScheme, Path: "$.amfi", Required: true},
			{Target: "scheme_name", Level: LevelScheme, Path: "$.scheme"},
			{Target: "isin", Level: LevelScheme, Path: "$.isin"},
			{Target: "date", Level: LevelTransaction, Path: "$.date", Required: true},
			{Target: "description", Level: LevelTransaction, Path: "$.description"},
			{Target: "amount", Level: LevelTransaction, Path: "$.amount"},
			{Target: "units", Level: LevelTransaction, Path: "$.units"},
			{Target: "nav", Level: LevelTransaction, Path: "$.nav"},
			{Target: "balance", Level: LevelTransaction, Path: "$.balance"},
			{Target: "type", Level: LevelTransaction, Path: "$.type"},
			{Target: "dividend_rate", Level: LevelTransaction, Path: "$.dividend_rate"},
		},
	}
}

// schemeFields maps scheme record fields to their source level and key.
var schemeFields = []FieldMapping{
	{Target: "folio", Level: LevelFolio, Path: "$.folio"},
	{Target: "amc", Level: LevelFolio, Path: "$.amc"},
	{Target: "pan", Level: LevelFolio, Path: "$.PAN"},
	{Target: "amfi", Level: LevelScheme, Path: "$.amfi"},
	{Target: "scheme", Level: LevelScheme, Path: "$.scheme"},
	{Target: "isin", Level: LevelScheme, Path: "$.isin"},
	{Target: "advisor", Level: LevelScheme, Path: "$.advisor"},
	{Target: "rta", Level: LevelScheme, Path: "$.rta"},
	{Target: "rta_code", Level: LevelScheme, Path: "$.rta_code"},
	{Target: "type", Level: LevelScheme, Path: "$.type"},
}

// Flatten produces one Scheme per holding of the statement, inheriting
// folio-level fields, and the projection that derives its transactions.
// Schemes without an AMFI code cannot be keyed and are skipped.
func Flatten(ctx context.Context, doc *models.StatementDocument) ([]models.Scheme, *Projection, error) {
	logger := logging.FromContext(ctx)
	proj := DefaultProjection()

	root, err := decode(doc)
	if err != nil {
		return nil, nil, err
	}

	var schemes []models.Scheme
	index := make(map[string]int)
	err = proj.walkSchemes(doc.ID, root, func(folio, scheme interface{}) error {
		rec := make(map[string]interface{}, len(schemeFields))
		for _, f := range schemeFields {
			node := folio
			if f.Level == LevelScheme {
				node = scheme
			}
			if v, ok := lookup(node, f.Path); ok {
				rec[f.Target] = v
			}
		}

		sc := models.Scheme{
			AMFI:    str(rec["amfi"]),
			ISIN:    str(rec["isin"]),
			Name:    str(rec["scheme"]),
			Advisor: str(rec["advisor"]),
			RTA:     str(rec["rta"]),
			RTACode: str(rec["rta_code"]),
			Type:    str(rec["type"]),
			Folio:   str(rec["folio"]),
			AMC:     str(rec["amc"]),
			PAN:     str(rec["pan"]),
		}
		if sc.AMFI == "" {
			logger.Warn().Str("scheme", sc.Name).Str("isin", sc.ISIN).Msg("Skipping scheme without AMFI code")
			return nil
		}
		if i, ok := index[sc.AMFI]; ok {
			schemes[i] = sc
			return nil
		}
		index[sc.AMFI] = len(schemes)
		schemes = append(schemes, sc)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return schemes, proj, nil
}

// Apply materialises the flat transactions described by the projection.
func (p *Projection) Apply(doc *models.StatementDocument) ([]models.Transaction, error) {
	root, err := decode(doc)
	if err != nil {
		return nil, err
	}

	var txns []models.Transaction
	err = p.walkSchemes(doc.ID, root, func(folio, scheme interface{}) error {
		if _, ok := lookup(scheme, "$.amfi"); !ok {
			return nil
		}
		raw, err := list(scheme, p.Transactions)
		if err != nil {
			return malformed(doc.ID, "scheme has no %s: %v", p.Transactions, err)
		}
		for _, tx := range raw {
			rec := make(map[string]interface{}, len(p.Fields))
			for _, f := range p.Fields {
				node := tx
				switch f.Level {
				case LevelFolio:
					node = folio
				case LevelScheme:
					node = scheme
				}
				v, ok := lookup(node, f.Path)
				if !ok {
					if f.Required {
						return malformed(doc.ID, "transaction missing %s", f.Target)
					}
					continue
				}
				rec[f.Target] = v
			}
			txn, err := toTransaction(rec)
			if err != nil {
				return apperrors.NewStatementError(doc.ID, "normalize", fmt.Errorf("%w: %v", apperrors.ErrMalformedDocument, err))
			}
			txns = append(txns, txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (p *Projection) walkSchemes(id string, root interface{}, fn func(folio, scheme interface{}) error) error {
	folios, err := list(root, p.Folios)
	if err != nil {
		return malformed(id, "no %s: %v", p.Folios, err)
	}
	for _, folio := range folios {
		schemes, err := list(folio, p.Schemes)
		if err != nil {
			return malformed(id, "folio has no %s: %v", p.Schemes, err)
		}
		for _, scheme := range schemes {
			if _, ok := scheme.(map[string]interface{}); !ok {
				return malformed(id, "scheme is %T, not an object", scheme)
			}
			if err := fn(folio, scheme); err != nil {
				return err
			}
		}
	}
	return nil
}

func decode(doc *models.StatementDocument) (interface{}, error) {
	if len(bytes.TrimSpace(doc.Data)) == 0 {
		return nil, malformed(doc.ID, "empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(doc.Data))
	dec.UseNumber()
	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, malformed(doc.ID, "invalid JSON: %v", err)
	}
	return root, nil
}

func malformed(id, format string, args ...interface{}) error {
	return apperrors.NewStatementError(id, "normalize",
		fmt.Errorf("%w: %s", apperrors.ErrMalformedDocument, fmt.Sprintf(format, args...)))
}

// lookup evaluates path on node. Unknown keys and JSON nulls are absent.
func lookup(node interface{}, path string) (interface{}, bool) {
	v, err := jsonpath.Get(path, node)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func list(node interface{}, path string) ([]interface{}, error) {
	v, err := jsonpath.Get(path, node)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s is %T, not an array", path, v)
	}
	return items, nil
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric value %v (%T)", v, v)
	}
}

func toTransaction(rec map[string]interface{}) (models.Transaction, error) {
	var txn models.Transaction
	var err error

	txn.AMFI = str(rec["amfi"])
	txn.SchemeName = str(rec["scheme_name"])
	txn.ISIN = str(rec["isin"])
	txn.Folio = str(rec["folio"])
	txn.Description = str(rec["description"])
	txn.Type = models.ParseTransactionType(str(rec["type"]))

	if txn.Date, err = models.ParseDate(str(rec["date"])); err != nil {
		return txn, fmt.Errorf("date: %w", err)
	}

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"amount", &txn.Amount},
		{"units", &txn.Units},
		{"nav", &txn.NAV},
		{"balance", &txn.Balance},
		{"dividend_rate", &txn.DividendRate},
	}
	for _, d := range decimals {
		if *d.dst, err = toDecimal(rec[d.key]); err != nil {
			return txn, fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return txn, nil
}
