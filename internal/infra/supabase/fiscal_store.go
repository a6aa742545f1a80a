package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Fiscal profiles (fiscal_data)
// ============================================================

type fiscalDataRow struct {
	ID                    int64           `json:"id"`
	MerchantID            int64           `json:"user_id"`
	CNPJ                  string          `json:"cnpj"`
	LegalName             string          `json:"razao_social"`
	TradeName             string          `json:"nome_fantasia"`
	StateRegistration     string          `json:"inscricao_estadual"`
	MunicipalRegistration string          `json:"inscricao_municipal"`
	TaxRegime             int             `json:"regime_tributario"`
	ZipCode               string          `json:"cep"`
	Street                string          `json:"logradouro"`
	Number                string          `json:"numero"`
	Complement            string          `json:"complemento"`
	Neighborhood          string          `json:"bairro"`
	City                  string          `json:"cidade"`
	State                 string          `json:"uf"`
	MunicipalityCode      string          `json:"codigo_municipio"`
	Email                 string          `json:"email"`
	Phone                 string          `json:"telefone"`
	LegacyCertificate     json.RawMessage `json:"certificado_digital"`
	CertificateFile       string          `json:"certificado_nome"`
	CertificatePassword   string          `json:"certificado_senha"`
	CertificateValidUntil *time.Time      `json:"certificado_validade_ate"`
	Environment           int             `json:"ambiente_nfe"`
	Series                string          `json:"serie_nfe"`
	NextNFe               int             `json:"proximo_numero_nfe"`
	NextNFSe              int             `json:"proximo_numero_nfse"`
	Active                bool            `json:"ativo"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (r *fiscalDataRow) toDomain() *domain.FiscalProfile {
	return &domain.FiscalProfile{
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
		Email:                 r.Email,
		Phone:                 r.Phone,
		Environment:           domain.ParseEnvironment(r.Environment),
		DefaultSeries:         r.Series,
		NextNFeNumber:         r.NextNFe,
		NextNFSeNumber:        r.NextNFSe,
		CertificateFile:       r.CertificateFile,
		CertificatePassword:   r.CertificatePassword,
		CertificateValidUntil: r.CertificateValidUntil,
		HasLegacyCertificate:  len(r.LegacyCertificate) > 0 && string(r.LegacyCertificate) != "null",
		Active:                r.Active,
		UpdatedAt:             r.UpdatedAt,
	}
}

// GetFiscalProfile returns the merchant's profile, preferring the active one.
func (c *Client) GetFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error) {
	path := fmt.Sprintf("fiscal_data?%s&order=ativo.desc,id.desc&limit=1", eq("user_id", merchantID))
	return c.profile(ctx, "Supabase.GetFiscalProfile", path, merchantID)
}

// GetActiveFiscalProfile returns the merchant's active profile.
func (c *Client) GetActiveFiscalProfile(ctx context.Context, merchantID int64) (*domain.FiscalProfile, error) {
	path := fmt.Sprintf("fiscal_data?%s&ativo=eq.true&order=id.desc&limit=1", eq("user_id", merchantID))
	return c.profile(ctx, "Supabase.GetActiveFiscalProfile", path, merchantID)
}

func (c *Client) profile(ctx context.Context, span, path string, merchantID int64) (*domain.FiscalProfile, error) {
	ctx, sp := tracer.Start(ctx, span)
	defer sp.End()
	sp.SetAttributes(attribute.Int64("merchant.id", merchantID))

	body, err := c.get(ctx, "fiscal_data", path)
	if err != nil {
		return nil, err
	}
	var rows []fiscalDataRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode fiscal_data: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "dados fiscais", ID: strconv.FormatInt(merchantID, 10)}
	}
	return rows[0].toDomain(), nil
}

// UpdateCertificate sets or, with an empty FileName, clears the certificate
// columns. The legacy inline container column is always cleared.
func (c *Client) UpdateCertificate(ctx context.Context, profileID int64, upd domain.CertificateUpdate) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCertificate")
	defer span.End()

	patch := map[string]any{
		"certificado_nome":         nil,
		"certificado_senha":        nil,
		"certificado_validade_ate": nil,
		"certificado_digital":      nil,
		"updated_at":               time.Now().UTC(),
	}
	if upd.FileName != "" {
		patch["certificado_nome"] = upd.FileName
		if upd.SealedPassword != "" {
			patch["certificado_senha"] = upd.SealedPassword
		}
		if upd.ValidUntil != nil {
			patch["certificado_validade_ate"] = upd.ValidUntil.UTC()
		}
	}

	body, err := c.doPatch(ctx, "fiscal_data", "fiscal_data?"+eq("id", profileID), patch)
	if err != nil {
		c.logger.Error("supabase: certificate update failed", zap.Int64("profile_id", profileID), zap.Error(err))
		return err
	}
	if isEmpty(body) {
		return &domain.ErrNotFound{Resource: "dados fiscais", ID: strconv.FormatInt(profileID, 10)}
	}
	return nil
}
