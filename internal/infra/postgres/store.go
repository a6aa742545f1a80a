// Package postgres implements port.Store over PostgreSQL with sqlx.
// The NFe tables are owned here (see schema.sql); the commerce tables are
// read only.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// Schema creates the tables the service writes to.
//
//go:embed schema.sql
var Schema string

const uniqueViolation = "23505"

var _ port.Store = (*Store)(nil)

// Store is the PostgreSQL backend.
type Store struct {
	db     *sqlx.DB
	retry  resilience.Config
	logger *zap.Logger
}

// NewStore wraps an open connection pool. Reads are retried with retry.
func NewStore(db *sqlx.DB, retry resilience.Config, logger *zap.Logger) *Store {
	return &Store{db: db, retry: retry, logger: logger}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, retry resilience.Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewStore(db, retry, logger), nil
}

// Migrate applies Schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// read runs fn with retries. sql.ErrNoRows becomes notFound without retrying.
func (s *Store) read(ctx context.Context, notFound error, fn func() error) error {
	return resilience.RetryWithBackoff(ctx, s.retry, func() error {
		err := fn()
		if errors.Is(err, sql.ErrNoRows) {
			return resilience.Permanent(notFound)
		}
		return err
	})
}

// ============================================================
// Fiscal profiles
// ============================================================

const profileColumns = `
	id, user_id, cnpj, razao_social,
	COALESCE(nome_fantasia, '') AS nome_fantasia,
	COALESCE(inscricao_estadual, '') AS inscricao_estadual,
	COALESCE(inscricao_municipal, '') AS inscricao_municipal,
	regime_tributario,
	COALESCE(cep, '') AS cep,
	COALESCE(logradouro, '') AS logradouro,
	COALESCE(numero, '') AS numero,
	COALESCE(complemento, '') AS complemento,
	COALESCE(bairro, '') AS bairro,
	COALESCE(cidade, '') AS cidade,
	COALESCE(uf, '') AS uf,
	COALESCE(codigo_municipio, '') AS codigo_municipio,
	COALESCE(email, '') AS email,
	COALESCE(telefone, '') AS telefone,
	COALESCE(certificado_nome, '') AS certificado_nome,
	COALESCE(certificado_senha, '') AS certificado_senha,
	certificado_validade_ate,
	certificado_digital IS NOT NULL AS certificado_legado,
	ambiente_nfe, serie_nfe, proximo_numero_nfe, proximo_numero_nfse,
	ativo, updated_at`

const (
	queryProfile = `SELECT ` + profileColumns + `
	FROM fiscal_data
	WHERE user_id = $1
	ORDER BY ativo DESC, id DESC
	LIMIT 1`

	queryActiveProfile = `SELECT ` + profileColumns + `
	FROM fiscal_data
	WHERE user_id = $1 AND ativo = TRUE
	ORDER BY id DESC
	LIMIT 1`

	updateCertificate = `UPDATE fiscal_data
	SET certificado_nome = $2,
	    certificado_senha = $3,
	    certificado_validade_ate = $4,
	    certificado_digital = NULL,
	    updated_at = now()
	WHERE id = $1`
)

type profileRow struct {
	ID                    int64        `db:"id"`
	MerchantID            int64        `db:"user_id"`
	CNPJ                  string       `db:"cnpj"`
	LegalName             string       `db:"razao_social"`
	TradeName             string       `db:"nome_fantasia"`
	StateRegistration     string       `db:"inscricao_estadual"`
	MunicipalRegistration string       `db:"inscricao_municipal"`
	TaxRegime             int          `db:"regime_tributario"`
	ZipCode               string       `db:"cep"`
	Street                string       `db:"logradouro"`
	Number                string       `db:"numero"`
	Complement            string       `db:"complemento"`
	Neighborhood          string       `db:"bairro"`
	City                  string       `db:"cidade"`
	State                 string       `db:"uf"`
	MunicipalityCode      string       `db:"codigo_municipio"`
	Email                 string       `db:"email"`
	Phone                 string       `db:"telefone"`
	CertificateFile       string       `db:"certificado_nome"`
	CertificatePassword   string       `db:"certificado_senha"`
	CertificateValidUntil sql.NullTime `db:"certificado_validade_ate"`
	LegacyCertificate     bool         `db:"certificado_legado"`
	Environment           int          `db:"ambiente_nfe"`
	Series                string       `db:"serie_nfe"`
	NextNFe               int          `db:"proximo_numero_nfe"`
	NextNFSe              int          `db:"proximo_numero_nfse"`
	Active                bool         `db:"ativo"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

func (r *profileRow) toDomain() *domain.FiscalProfile {
	p := &domain.FiscalProfile{
		ID:                    r.ID,
		MerchantID:            r.MerchantID,
		CNPJ:                  r.CNPJ,
		LegalName:             r.LegalName,
		TradeName:             r.TradeName,
		StateRegistration:     r.StateRegistration,
		MunicipalRegistration: r.MunicipalRegistration,
		TaxRegime:             domain.TaxRegime(r.TaxRegime),
		Address: domain.Address{
			Street:           r.Street,
			Number:           r.Number,
			Complement:       r.Complement,
			Neighborhood:     r.Neighborhood,
			City:             r.City,
			State:            r.State,
			ZipCode:          r.ZipCode,
			MunicipalityCode: r.MunicipalityCode,
		},
		Email:                r.Email,
		Phone:                r.Phone,
		Environment:          domain.ParseEnvironment(r.Environment),
		DefaultSeries:        r.Series,
		NextNFeNumber:        r.NextNFe,
		NextNFSeNumber:       r.NextNFSe,
		CertificateFile:      r.CertificateFile,
		CertificatePassword:  r.CertificatePassword,
		HasLegacyCertificate: r.LegacyCertificate,
		Active:               r.Active,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.CertificateValidUntil.Valid {
		t := r.CertificateValidUntil.Time
		p.CertificateValidUntil = &t
	}
	return p
}

// GetFiscalProfile returns the merchant's profile, preferring the active one.
func (s *Store) GetFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error) {
	return s.profile(ctx, "Postgres.GetFiscalProfile", queryProfile, merchantID)
}

// GetActiveFiscalProfile returns the merchant's active profile.
func (s *Store) GetActiveFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error) {
	return s.profile(ctx, "Postgres.GetActiveFiscalProfile", queryActiveProfile, merchantID)
}

func (s *Store) profile(ctx context.Context, span, query string, merchantID int64) (*domain.FiscalProfile, error) {
	ctx, sp := tracer.Start(ctx, span)
	defer sp.End()
	sp.SetAttributes(attribute.Int64("merchant.id", merchantID))

	var row profileRow
	notFound := &domain.ErrNotFound{Resource: "dados fiscais", ID: strconv.FormatInt(merchantID, 10)}
	err := s.read(ctx, notFound, func() error {
		return s.db.GetContext(ctx, &row, query, merchantID)
	})
	if err != nil {
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			s.logger.Error("postgres: fiscal profile query failed", zap.Int64("merchant_id", merchantID), zap.Error(err))
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// UpdateCertificate sets or, with an empty FileName, clears the certificate
// columns. The legacy inline container column is always cleared.
func (s *Store) UpdateCertificate(ctx context.Context, profileID int64, upd domain.CertificateUpdate) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateCertificate")
	defer span.End()

	var (
		name, password sql.NullString
		validUntil     sql.NullTime
	)
	if upd.FileName != "" {
		name = sql.NullString{String: upd.FileName, Valid: true}
		password = sql.NullString{String: upd.SealedPassword, Valid: upd.SealedPassword != ""}
		if upd.ValidUntil != nil {
			validUntil = sql.NullTime{Time: *upd.ValidUntil, Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx, updateCertificate, profileID, name, password, validUntil)
	if err != nil {
		s.logger.Error("postgres: certificate update failed", zap.Int64("profile_id", profileID), zap.Error(err))
		return fmt.Errorf("update certificate: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.ErrNotFound{Resource: "dados fiscais", ID: strconv.FormatInt(profileID, 10)}
	}
	return nil
}

// ============================================================
// Sales (read model)
// ============================================================

const (
	querySale = `SELECT
	s.id, s.user_id,
	s.total_amount,
	COALESCE(s.discount_amount, 0) AS discount_amount,
	COALESCE(s.shipping_amount, 0) AS shipping_amount,
	s.final_amount,
	s.payment_status,
	COALESCE(s.payment_method, '') AS payment_method,
	s.created_at,
	COALESCE(c.id, 0) AS customer_id,
	COALESCE(c.name, '') AS customer_name,
	COALESCE(c.email, '') AS customer_email,
	COALESCE(c.phone, '') AS customer_phone,
	COALESCE(c.document, '') AS customer_document
	FROM sales s
	LEFT JOIN customers c ON c.id = s.customer_id
	WHERE s.id = $1`

	querySaleItems = `SELECT
	si.id, si.product_id,
	COALESCE(p.sku, '') AS sku,
	COALESCE(p.name, '') AS name,
	si.quantity, si.unit_price
	FROM sale_items si
	LEFT JOIN products p ON p.id = si.product_id
	WHERE si.sale_id = $1
	ORDER BY si.id`

	addressColumns = `
	COALESCE(a.street, '') AS street,
	COALESCE(a.number, '') AS number,
	COALESCE(a.complement, '') AS complement,
	COALESCE(a.neighborhood, '') AS neighborhood,
	COALESCE(a.city, '') AS city,
	COALESCE(a.state, '') AS state,
	COALESCE(a.zip_code, '') AS zip_code`

	queryShipmentAddress = `SELECT` + addressColumns + `
	FROM shippings sh
	JOIN shipping_addresses a ON a.id = sh.shipping_address_id
	WHERE sh.sale_id = $1
	ORDER BY sh.id DESC
	LIMIT 1`

	queryCustomerAddresses = `SELECT` + addressColumns + `
	FROM shipping_addresses a
	WHERE a.customer_id = $1
	ORDER BY a.id`
)

type saleRow struct {
	ID               int64           `db:"id"`
	MerchantID       int64           `db:"user_id"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	DiscountAmount   decimal.Decimal `db:"discount_amount"`
	ShippingAmount   decimal.Decimal `db:"shipping_amount"`
	FinalAmount      decimal.Decimal `db:"final_amount"`
	PaymentStatus    string          `db:"payment_status"`
	PaymentMethod    string          `db:"payment_method"`
	CreatedAt        time.Time       `db:"created_at"`
	CustomerID       int64           `db:"customer_id"`
	CustomerName     string          `db:"customer_name"`
	CustomerEmail    string          `db:"customer_email"`
	CustomerPhone    string          `db:"customer_phone"`
	CustomerDocument string          `db:"customer_document"`
}

type itemRow struct {
	ID        int64           `db:"id"`
	ProductID int64           `db:"product_id"`
	SKU       string          `db:"sku"`
	Name      string          `db:"name"`
	Quantity  decimal.Decimal `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

type addressRow struct {
	Street       string `db:"street"`
	Number       string `db:"number"`
	Complement   string `db:"complement"`
	Neighborhood string `db:"neighborhood"`
	City         string `db:"city"`
	State        string `db:"state"`
	ZipCode      string `db:"zip_code"`
}

func (a addressRow) toDomain() domain.Address {
	return domain.Address{
		Street:       a.Street,
		Number:       a.Number,
		Complement:   a.Complement,
		Neighborhood: a.Neighborhood,
		City:         a.City,
		State:        a.State,
		ZipCode:      a.ZipCode,
	}
}

// GetSale loads a sale with its customer, items and addresses.
func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetSale")
	defer span.End()
	span.SetAttributes(attribute.Int64("sale.id", saleID))

	var (
		row       saleRow
		items     []itemRow
		shipment  []addressRow
		addresses []addressRow
	)
	notFound := &domain.ErrNotFound{Resource: "venda", ID: strconv.FormatInt(saleID, 10)}
	err := s.read(ctx, notFound, func() error {
		if err := s.db.GetContext(ctx, &row, querySale, saleID); err != nil {
			return err
		}
		items = items[:0]
		if err := s.db.SelectContext(ctx, &items, querySaleItems, saleID); err != nil {
			return fmt.Errorf("sale items: %w", err)
		}
		shipment = shipment[:0]
		if err := s.db.SelectContext(ctx, &shipment, queryShipmentAddress, saleID); err != nil {
			return fmt.Errorf("shipment address: %w", err)
		}
		addresses = addresses[:0]
		if row.CustomerID != 0 {
			if err := s.db.SelectContext(ctx, &addresses, queryCustomerAddresses, row.CustomerID); err != nil {
				return fmt.Errorf("customer addresses: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			s.logger.Error("postgres: sale query failed", zap.Int64("sale_id", saleID), zap.Error(err))
		}
		return nil, err
	}

	sale := &domain.Sale{
		ID:         row.ID,
		MerchantID: row.MerchantID,
		Customer: domain.Customer{
			ID:       row.CustomerID,
			Name:     row.CustomerName,
			Email:    row.CustomerEmail,
			Phone:    row.CustomerPhone,
			Document: row.CustomerDocument,
		},
		TotalAmount:    row.TotalAmount,
		DiscountAmount: row.DiscountAmount,
		ShippingAmount: row.ShippingAmount,
		FinalAmount:    row.FinalAmount,
		PaymentStatus:  row.PaymentStatus,
		PaymentMethod:  row.PaymentMethod,
		CreatedAt:      row.CreatedAt,
	}
	for _, it := range items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:          it.ID,
			ProductID:   it.ProductID,
			SKU:         it.SKU,
			ProductName: it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	if len(shipment) > 0 {
		addr := shipment[0].toDomain()
		sale.ShippingAddress = &addr
	}
	for _, a := range addresses {
		sale.Customer.Addresses = append(sale.Customer.Addresses, a.toDomain())
	}
	return sale, nil
}

// ============================================================
// Issued documents (append-only)
// ============================================================

const (
	queryMaxNumber = `SELECT COALESCE(MAX(numero), 0)
	FROM notas_fiscais
	WHERE user_id = $1 AND tipo = $2 AND serie = $3 AND status <> $4`

	insertDocument = `INSERT INTO notas_fiscais (
	id, user_id, sale_id, fiscal_data_id, tipo, numero, serie, chave_acesso,
	protocolo, recibo, status, cstat, mensagem_sefaz, ambiente, provedor_nome,
	data_emissao, data_autorizacao, valor_total, valor_produtos, valor_frete,
	valor_desconto, cliente_nome, cliente_documento, cliente_email,
	cliente_telefone, cliente_endereco, natureza, cfop, observacoes,
	itens_json, xml_assinado, created_at
	) VALUES (
	:id, :user_id, :sale_id, :fiscal_data_id, :tipo, :numero, :serie, :chave_acesso,
	:protocolo, :recibo, :status, :cstat, :mensagem_sefaz, :ambiente, :provedor_nome,
	:data_emissao, :data_autorizacao, :valor_total, :valor_produtos, :valor_frete,
	:valor_desconto, :cliente_nome, :cliente_documento, :cliente_email,
	:cliente_telefone, :cliente_endereco, :natureza, :cfop, :observacoes,
	:itens_json, :xml_assinado, :created_at
	)`

	queryDocumentByKey = `SELECT
	id, user_id, sale_id, fiscal_data_id, tipo, numero, serie, chave_acesso,
	COALESCE(protocolo, '') AS protocolo,
	COALESCE(recibo, '') AS recibo,
	status, cstat,
	COALESCE(mensagem_sefaz, '') AS mensagem_sefaz,
	ambiente, provedor_nome, data_emissao, data_autorizacao,
	valor_total, valor_produtos, valor_frete, valor_desconto,
	COALESCE(cliente_nome, '') AS cliente_nome,
	COALESCE(cliente_documento, '') AS cliente_documento,
	COALESCE(cliente_email, '') AS cliente_email,
	COALESCE(cliente_telefone, '') AS cliente_telefone,
	COALESCE(cliente_endereco, '') AS cliente_endereco,
	natureza, cfop,
	COALESCE(observacoes, '') AS observacoes,
	itens_json, xml_assinado, created_at
	FROM notas_fiscais
	WHERE user_id = $1 AND chave_acesso = $2
	ORDER BY created_at DESC
	LIMIT 1`
)

type documentRow struct {
	ID               string          `db:"id"`
	MerchantID       int64           `db:"user_id"`
	SaleID           int64           `db:"sale_id"`
	ProfileID        int64           `db:"fiscal_data_id"`
	Type             string          `db:"tipo"`
	Number           int             `db:"numero"`
	Series           string          `db:"serie"`
	AccessKey        string          `db:"chave_acesso"`
	Protocol         string          `db:"protocolo"`
	Receipt          string          `db:"recibo"`
	Status           string          `db:"status"`
	Code             int             `db:"cstat"`
	Message          string          `db:"mensagem_sefaz"`
	Environment      int             `db:"ambiente"`
	Provider         string          `db:"provedor_nome"`
	IssuedAt         time.Time       `db:"data_emissao"`
	AuthorizedAt     sql.NullTime    `db:"data_autorizacao"`
	TotalAmount      decimal.Decimal `db:"valor_total"`
	ProductsAmount   decimal.Decimal `db:"valor_produtos"`
	ShippingAmount   decimal.Decimal `db:"valor_frete"`
	DiscountAmount   decimal.Decimal `db:"valor_desconto"`
	CustomerName     string          `db:"cliente_nome"`
	CustomerDocument string          `db:"cliente_documento"`
	CustomerEmail    string          `db:"cliente_email"`
	CustomerPhone    string          `db:"cliente_telefone"`
	CustomerAddress  string          `db:"cliente_endereco"`
	Nature           string          `db:"natureza"`
	CFOP             string          `db:"cfop"`
	Notes            string          `db:"observacoes"`
	Items            string          `db:"itens_json"`
	XML              string          `db:"xml_assinado"`
	CreatedAt        time.Time       `db:"created_at"`
}

func documentFromDomain(d *domain.IssuedDocument) documentRow {
	row := documentRow{
		ID:               d.ID,
		MerchantID:       d.MerchantID,
		SaleID:           d.SaleID,
		ProfileID:        d.ProfileID,
		Type:             string(d.Type),
		Number:           d.Number,
		Series:           d.Series,
		AccessKey:        d.AccessKey,
		Protocol:         d.Protocol,
		Receipt:          d.Receipt,
		Status:           string(d.Status),
		Code:             d.AuthorityCode,
		Message:          d.AuthorityMessage,
		Environment:      int(d.Environment),
		Provider:         d.Provider,
		IssuedAt:         d.IssuedAt,
		TotalAmount:      d.TotalAmount,
		ProductsAmount:   d.ProductsAmount,
		ShippingAmount:   d.ShippingAmount,
		DiscountAmount:   d.DiscountAmount,
		CustomerName:     d.CustomerName,
		CustomerDocument: d.CustomerDocument,
		CustomerEmail:    d.CustomerEmail,
		CustomerPhone:    d.CustomerPhone,
		CustomerAddress:  d.CustomerAddress,
		Nature:           d.Nature,
		CFOP:             d.CFOP,
		Notes:            d.Notes,
		Items:            string(d.Items),
		XML:              d.XML,
		CreatedAt:        d.CreatedAt,
	}
	if d.AuthorizedAt != nil {
		row.AuthorizedAt = sql.NullTime{Time: *d.AuthorizedAt, Valid: true}
	}
	if row.Items == "" {
		row.Items = "[]"
	}
	return row
}

func (r *documentRow) toDomain() *domain.IssuedDocument {
	d := &domain.IssuedDocument{
		ID:               r.ID,
		MerchantID:       r.MerchantID,
		SaleID:           r.SaleID,
		ProfileID:        r.ProfileID,
		Type:             domain.DocumentType(r.Type),
		Number:           r.Number,
		Series:           r.Series,
		AccessKey:        r.AccessKey,
		Protocol:         r.Protocol,
		Receipt:          r.Receipt,
		Status:           domain.DocumentStatus(r.Status),
		AuthorityCode:    r.Code,
		AuthorityMessage: r.Message,
		Environment:      domain.ParseEnvironment(r.Environment),
		Provider:         r.Provider,
		IssuedAt:         r.IssuedAt,
		TotalAmount:      r.TotalAmount,
		ProductsAmount:   r.ProductsAmount,
		ShippingAmount:   r.ShippingAmount,
		DiscountAmount:   r.DiscountAmount,
		CustomerName:     r.CustomerName,
		CustomerDocument: r.CustomerDocument,
		CustomerEmail:    r.CustomerEmail,
		CustomerPhone:    r.CustomerPhone,
		CustomerAddress:  r.CustomerAddress,
		Nature:           r.Nature,
		CFOP:             r.CFOP,
		Notes:            r.Notes,
		Items:            json.RawMessage(r.Items),
		XML:              r.XML,
		CreatedAt:        r.CreatedAt,
	}
	if r.AuthorizedAt.Valid {
		t := r.AuthorizedAt.Time
		d.AuthorizedAt = &t
	}
	return d
}

// MaxNumber returns the highest number of a sequence held by a non-rejected
// document, or 0.
func (s *Store) MaxNumber(ctx context.Context, merchantID int64, docType domain.DocumentType, series string) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.MaxNumber")
	defer span.End()

	var n int
	err := s.read(ctx, sql.ErrNoRows, func() error {
		return s.db.GetContext(ctx, &n, queryMaxNumber, merchantID, string(docType), series, string(domain.StatusRejected))
	})
	if err != nil {
		return 0, fmt.Errorf("max number: %w", err)
	}
	return n, nil
}

// CreateIssuedDocument inserts a ledger entry. A number already held by a
// non-rejected document of the same merchant, type and series yields
// ErrDuplicate.
func (s *Store) CreateIssuedDocument(ctx context.Context, doc *domain.IssuedDocument) (*domain.IssuedDocument, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateIssuedDocument")
	defer span.End()
	span.SetAttributes(attribute.String("nfe.chave", doc.AccessKey))

	if _, err := s.db.NamedExecContext(ctx, insertDocument, documentFromDomain(doc)); err != nil {
		if isUniqueViolation(err) {
			return nil, &domain.ErrDuplicate{Key: fmt.Sprintf("%s %s/%d", doc.Type, doc.Series, doc.Number)}
		}
		s.logger.Error("postgres: insert issued document failed",
			zap.String("chave", doc.AccessKey),
			zap.Error(err),
		)
		return nil, fmt.Errorf("insert issued document: %w", err)
	}
	return doc, nil
}

// GetIssuedDocumentByKey returns the latest ledger entry for an access key.
func (s *Store) GetIssuedDocumentByKey(ctx context.Context, merchantID int64, accessKey string) (*domain.IssuedDocument, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetIssuedDocumentByKey")
	defer span.End()

	var row documentRow
	err := s.read(ctx, &domain.ErrNotFound{Resource: "nota fiscal", ID: accessKey}, func() error {
		return s.db.GetContext(ctx, &row, queryDocumentByKey, merchantID, accessKey)
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// ============================================================
// Fiscal events
// ============================================================

const (
	insertEvent = `INSERT INTO eventos_fiscais (
	id, user_id, fiscal_data_id, tipo, chave_acesso, sequencia, serie,
	numero_inicial, numero_final, justificativa, protocolo, cstat, xmotivo,
	ambiente, xml, created_at
	) VALUES (
	:id, :user_id, :fiscal_data_id, :tipo, :chave_acesso, :sequencia, :serie,
	:numero_inicial, :numero_final, :justificativa, :protocolo, :cstat, :xmotivo,
	:ambiente, :xml, :created_at
	)`

	queryCountEvents = `SELECT COUNT(*)
	FROM eventos_fiscais
	WHERE chave_acesso = $1 AND tipo = $2 AND cstat IN (135, 136, 155)`
)

type eventRow struct {
	ID            string         `db:"id"`
	MerchantID    int64          `db:"user_id"`
	ProfileID     int64          `db:"fiscal_data_id"`
	Type          string         `db:"tipo"`
	AccessKey     sql.NullString `db:"chave_acesso"`
	Sequence      int            `db:"sequencia"`
	Series        sql.NullString `db:"serie"`
	FirstNumber   sql.NullInt64  `db:"numero_inicial"`
	LastNumber    sql.NullInt64  `db:"numero_final"`
	Justification string         `db:"justificativa"`
	Protocol      string         `db:"protocolo"`
	Code          int            `db:"cstat"`
	Message       string         `db:"xmotivo"`
	Environment   int            `db:"ambiente"`
	XML           string         `db:"xml"`
	CreatedAt     time.Time      `db:"created_at"`
}

func eventFromDomain(ev *domain.FiscalEvent) eventRow {
	row := eventRow{
		ID:            ev.ID,
		MerchantID:    ev.MerchantID,
		ProfileID:     ev.ProfileID,
		Type:          string(ev.Type),
		AccessKey:     sql.NullString{String: ev.AccessKey, Valid: ev.AccessKey != ""},
		Sequence:      ev.Sequence,
		Series:        sql.NullString{String: ev.Series, Valid: ev.Series != ""},
		Justification: ev.Justification,
		Protocol:      ev.Protocol,
		Code:          ev.Code,
		Message:       ev.Message,
		Environment:   int(ev.Environment),
		XML:           ev.XML,
		CreatedAt:     ev.CreatedAt,
	}
	if ev.FirstNumber > 0 {
		row.FirstNumber = sql.NullInt64{Int64: int64(ev.FirstNumber), Valid: true}
		row.LastNumber = sql.NullInt64{Int64: int64(ev.LastNumber), Valid: true}
	}
	return row
}

// CreateFiscalEvent inserts an accepted event.
func (s *Store) CreateFiscalEvent(ctx context.Context, ev *domain.FiscalEvent) (*domain.FiscalEvent, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateFiscalEvent")
	defer span.End()

	if _, err := s.db.NamedExecContext(ctx, insertEvent, eventFromDomain(ev)); err != nil {
		s.logger.Error("postgres: insert fiscal event failed",
			zap.String("tipo", string(ev.Type)),
			zap.String("chave", ev.AccessKey),
			zap.Error(err),
		)
		return nil, fmt.Errorf("insert fiscal event: %w", err)
	}
	return ev, nil
}

// CountEvents counts accepted events of a type for an access key.
func (s *Store) CountEvents(ctx context.Context, accessKey string, eventType domain.EventType) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountEvents")
	defer span.End()

	var n int
	err := s.read(ctx, sql.ErrNoRows, func() error {
		return s.db.GetContext(ctx, &n, queryCountEvents, accessKey, string(eventType))
	})
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
