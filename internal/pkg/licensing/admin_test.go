package licensing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
)

type adminFixture struct {
	*serviceFixture
	admin *AdminService
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	base := newServiceFixture(t)
	return &adminFixture{
		serviceFixture: base,
		admin:          NewAdminService(base.licenses, keygen.NewGenerator(nil), base.clock),
	}
}

func TestAdminCreateIssuesPendingLicense(t *testing.T) {
	f := newAdminFixture(t)

	license, err := f.admin.Create(CreateInput{
		UserID:         7,
		ProductID:      10,
		Type:           models.LicenseTypeDeveloper,
		MaxActivations: 5,
		ValidityDays:   90,
		AllowedDomains: []string{"example.com"},
	})
	require.NoError(t, err)

	assert.True(t, keygen.ValidLicenseKey(license.LicenseKey), "unexpected key format %q", license.LicenseKey)
	assert.Equal(t, models.LicenseStatusPending, license.Status)
	assert.Equal(t, models.LicenseTypeDeveloper, license.Type)
	assert.Equal(t, 5, license.MaxActivations)
	require.NotNil(t, license.ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 90), *license.ExpiresAt)

	// Defaults apply when the input leaves type and cap empty.
	plain, err := f.admin.Create(CreateInput{UserID: 7, ProductID: 10})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseTypePerpetual, plain.Type)
	assert.Equal(t, 1, plain.MaxActivations)
	assert.Nil(t, plain.ExpiresAt)
}

func TestAdminUpdateMutatesPolicyFields(t *testing.T) {
	f := newAdminFixture(t)
	license := f.seedLicense(t, nil)

	cap := 10
	domains := []string{"example.com", "example.org"}
	updated, err := f.admin.Update(license.ID, UpdateInput{
		MaxActivations: &cap,
		AllowedDomains: &domains,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.MaxActivations)
	assert.Equal(t, models.StringList(domains), updated.AllowedDomains)

	expires := f.clock.Now().Add(24 * time.Hour)
	updated, err = f.admin.Update(license.ID, UpdateInput{ExpiresAt: &expires})
	require.NoError(t, err)
	require.NotNil(t, updated.ExpiresAt)
	assert.Equal(t, expires, *updated.ExpiresAt)

	updated, err = f.admin.Update(license.ID, UpdateInput{ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ExpiresAt)
}

func TestAdminUpdateReinstatesLapsedLicense(t *testing.T) {
	f := newAdminFixture(t)
	past := f.clock.Now().Add(-time.Hour)
	license := f.seedLicense(t, func(l *models.License) {
		l.Status = models.LicenseStatusExpired
		l.ExpiresAt = &past
		activated := past.Add(-24 * time.Hour)
		l.ActivatedAt = &activated
	})

	future := f.clock.Now().Add(30 * 24 * time.Hour)
	updated, err := f.admin.Update(license.ID, UpdateInput{ExpiresAt: &future})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, updated.Status)

	_, err = f.service.Verify("ABCD-EFGH-JKLM-NPQR", VerifyInput{})
	assert.NoError(t, err)
}

func TestAdminSuspendAndResume(t *testing.T) {
	f := newAdminFixture(t)
	license := f.seedLicense(t, nil)

	_, err := f.service.Activate(7, "ABCD-EFGH-JKLM-NPQR", ActivateInput{MachineID: "machine-a"})
	require.NoError(t, err)

	require.NoError(t, f.admin.Suspend(license.ID))
	_, err = f.service.Verify("ABCD-EFGH-JKLM-NPQR", VerifyInput{})
	assert.True(t, IsCode(err, CodeSuspended))
	_, err = f.service.Activate(7, "ABCD-EFGH-JKLM-NPQR", ActivateInput{MachineID: "machine-b"})
	assert.True(t, IsCode(err, CodeSuspended))

	// Suspending twice is a no-op.
	require.NoError(t, f.admin.Suspend(license.ID))

	require.NoError(t, f.admin.Resume(license.ID))
	stored, err := f.licenses.GetByID(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, stored.Status)

	_, err = f.service.Verify("ABCD-EFGH-JKLM-NPQR", VerifyInput{})
	assert.NoError(t, err)
}

func TestAdminResumeNeverActivatedGoesBackToPending(t *testing.T) {
	f := newAdminFixture(t)
	license := f.seedLicense(t, func(l *models.License) {
		l.Status = models.LicenseStatusSuspended
	})

	require.NoError(t, f.admin.Resume(license.ID))
	stored, err := f.licenses.GetByID(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusPending, stored.Status)
}

func TestAdminRevokeIsIrreversible(t *testing.T) {
	f := newAdminFixture(t)
	license := f.seedLicense(t, nil)

	first, err := f.service.Activate(7, "ABCD-EFGH-JKLM-NPQR", ActivateInput{MachineID: "machine-a"})
	require.NoError(t, err)

	require.NoError(t, f.admin.Revoke(license.ID, 1, "chargeback"))

	activation, err := f.licenses.GetActivationByID(first.ActivationID)
	require.NoError(t, err)
	assert.False(t, activation.IsActive)
	assert.Equal(t, "chargeback", activation.DeactivateReason)

	stored, err := f.licenses.GetByID(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, stored.Status)

	// No operation leaves REVOKED.
	_, err = f.service.Activate(7, "ABCD-EFGH-JKLM-NPQR", ActivateInput{MachineID: "machine-a"})
	assert.True(t, IsCode(err, CodeRevoked))
	_, err = f.service.Verify("ABCD-EFGH-JKLM-NPQR", VerifyInput{})
	assert.True(t, IsCode(err, CodeRevoked))

	cap := 99
	_, err = f.admin.Update(license.ID, UpdateInput{MaxActivations: &cap})
	assert.True(t, IsCode(err, CodeRevoked))
	assert.True(t, IsCode(f.admin.Suspend(license.ID), CodeRevoked))
	require.NoError(t, f.admin.Resume(license.ID)) // no-op, does not resurrect
	stored, err = f.licenses.GetByID(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, stored.Status)

	// Revoking again is a no-op.
	require.NoError(t, f.admin.Revoke(license.ID, 1, ""))
}

func TestAdminListPagination(t *testing.T) {
	f := newAdminFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.admin.Create(CreateInput{UserID: 7, ProductID: 10})
		require.NoError(t, err)
	}
	_, err := f.admin.Create(CreateInput{UserID: 8, ProductID: 10})
	require.NoError(t, err)

	page, cursor, err := f.admin.List(repository.LicenseFilter{UserID: 7, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotZero(t, cursor)
	// Newest first.
	assert.Greater(t, page[0].ID, page[1].ID)

	rest, next, err := f.admin.List(repository.LicenseFilter{UserID: 7, Cursor: cursor, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Zero(t, next)

	for _, l := range rest {
		assert.Less(t, l.ID, cursor)
		assert.Equal(t, uint(7), l.UserID)
	}
}
