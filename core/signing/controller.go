// Package signing holds the top-level controller: it consumes estimation
// and gas-price data, aggregates user-facing errors, exposes readiness, and
// performs the final signing side effects.
package signing

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/core/estimation"
	"github.com/AvaProtocol/wallet-core/core/fees"
	"github.com/AvaProtocol/wallet-core/core/paymaster"
	"github.com/AvaProtocol/wallet-core/core/rbfstore"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/eip1559"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// minGasTankTotalUSD is the minimum total portfolio value required before
// gas-tank payment is allowed.
var minGasTankTotalUSD = decimal.NewFromInt(10)

const defaultBlockGasLimit = 30_000_000

// Observer is notified after a state-affecting operation completes, never
// mid-mutation.
type Observer func()

// Dependencies wires the controller to everything external. Paymaster,
// Bundlers, RBF, Prices and IsStillActive are optional.
type Dependencies struct {
	Network   *config.Network
	Keystore  Keystore
	Portfolio Portfolio
	Prices    fees.PriceSource
	Fees      *fees.Calculator
	Paymaster *paymaster.Coordinator
	RBF       *rbfstore.Store
	// IsStillActive is polled after long external waits so a dismissed
	// request cannot complete.
	IsStillActive func() bool
	Logger        logger.Logger
}

// UpdateParams carries a partial update; nil fields are left untouched.
type UpdateParams struct {
	Calls           []accountop.Call
	Estimation      *estimation.Result
	Recommendations []eip1559.Recommendation
	// PaidBy plus FeeToken select a fee payment option.
	PaidBy              *common.Address
	FeeToken            *accountop.FeeToken
	Speed               *accountop.SpeedKind
	SigningKey          *accountop.KeyReference
	AvailableSigningKeys []accountop.KeyReference
	GasUsedTooHighAgreed *bool
}

// selectionRef identifies the chosen fee option across re-estimates.
type selectionRef struct {
	paidBy    common.Address
	token     common.Address
	onGasTank bool
}

// Controller is the signing state machine for one AccountOp. It is driven
// by Update and Sign from a single cooperative flow; the frozen status gate
// is the only ordering mechanism, there is no lock.
type Controller struct {
	deps Dependencies

	requestID      string
	op             *accountop.AccountOp
	isSmartAccount bool

	estimation      *estimation.Result
	recommendations []eip1559.Recommendation

	signingKey    *accountop.KeyReference
	availableKeys []accountop.KeyReference

	selection   *selectionRef
	speed       accountop.SpeedKind
	wasSponsored bool

	// speedsByKey caches computed tables; speedsKeys maps each option
	// index to its key so identical updates never recompute.
	speedsByKey map[string][]fees.FeeSpeed
	speedsKeys  []string
	dirty       bool

	nativePriceOK        bool
	gasUsedTooHigh       bool
	gasUsedTooHighAgreed bool

	status           Status
	errs             []string
	warnings         []string
	signingError     string
	reestimateNeeded bool
	result           *accountop.AccountOp

	observers []Observer
	logger    logger.Logger
}

// NewController builds a controller around one AccountOp. isSmartAccount
// marks contract accounts, which need either a relayer or 4337 support on
// the network.
func NewController(deps Dependencies, op *accountop.AccountOp, isSmartAccount bool) *Controller {
	c := &Controller{
		deps:           deps,
		requestID:      ulid.Make().String(),
		op:             op,
		isSmartAccount: isSmartAccount,
		speed:          accountop.SpeedFast,
		speedsByKey:    map[string][]fees.FeeSpeed{},
		nativePriceOK:  true,
		logger:         logger.EnsureLogger(deps.Logger),
	}
	if deps.Paymaster != nil {
		c.wasSponsored = deps.Paymaster.IsSponsored()
	}
	return c
}

// RequestID identifies this signing request in logs and callbacks.
func (c *Controller) RequestID() string { return c.requestID }

// Subscribe registers an observer called after each settled Update or Sign.
func (c *Controller) Subscribe(fn Observer) {
	c.observers = append(c.observers, fn)
}

func (c *Controller) notify() {
	for _, fn := range c.observers {
		fn()
	}
}

// Status returns the current state machine value.
func (c *Controller) Status() Status { return c.status }

// ReadyToSign reports whether Sign may be called.
func (c *Controller) ReadyToSign() bool { return c.status == StatusReadyToSign }

// Errors returns the aggregated user-facing blockers, display-ready.
func (c *Controller) Errors() []string { return c.errs }

// Warnings returns non-blocking notices.
func (c *Controller) Warnings() []string { return c.warnings }

// SigningError returns the humanized failure of the last Sign attempt.
func (c *Controller) SigningError() string { return c.signingError }

// NeedsReestimate is set when a paymaster failure invalidated the current
// estimation; the caller must run a fresh estimate before retrying.
func (c *Controller) NeedsReestimate() bool { return c.reestimateNeeded }

// Result returns the snapshot of the signed AccountOp once status is Done.
func (c *Controller) Result() *accountop.AccountOp { return c.result }

// AvailableFeeOptions lists the payment options of the current estimation.
func (c *Controller) AvailableFeeOptions() []accountop.FeePaymentOption {
	if c.estimation == nil {
		return nil
	}
	return c.estimation.FeeOptions
}

// FeeSpeeds returns the speed table of the currently selected option.
func (c *Controller) FeeSpeeds() []fees.FeeSpeed {
	idx := c.selectedIndex()
	if idx < 0 || idx >= len(c.speedsKeys) {
		return nil
	}
	return c.speedsByKey[c.speedsKeys[idx]]
}

// SelectedOption returns the chosen fee payment option, nil when none.
func (c *Controller) SelectedOption() *accountop.FeePaymentOption {
	idx := c.selectedIndex()
	if idx < 0 {
		return nil
	}
	opt := c.estimation.FeeOptions[idx]
	return &opt
}

func (c *Controller) selectedIndex() int {
	if c.selection == nil || c.estimation == nil {
		return -1
	}
	for i, opt := range c.estimation.FeeOptions {
		if opt.Payer == c.selection.paidBy &&
			opt.Token.Address == c.selection.token &&
			opt.Token.OnGasTank == c.selection.onGasTank {
			return i
		}
	}
	return -1
}

// Update merges the supplied fields and recomputes selection, fee speeds,
// payment, errors and status. A complete no-op while status is frozen.
func (c *Controller) Update(ctx context.Context, p UpdateParams) {
	if c.status.IsFrozen() {
		return
	}

	if p.Calls != nil {
		c.op.Calls = p.Calls
		c.dirty = true
	}
	if p.Estimation != nil && !sameEstimation(p.Estimation, c.estimation) {
		c.estimation = p.Estimation
		c.dirty = true
	}
	if p.Recommendations != nil && !sameRecommendations(p.Recommendations, c.recommendations) {
		c.recommendations = p.Recommendations
		c.dirty = true
	}
	if p.AvailableSigningKeys != nil {
		c.availableKeys = p.AvailableSigningKeys
	}
	if p.SigningKey != nil {
		c.signingKey = p.SigningKey
	}
	if p.Speed != nil {
		c.speed = *p.Speed
	}
	if p.PaidBy != nil && p.FeeToken != nil {
		c.selection = &selectionRef{
			paidBy:    *p.PaidBy,
			token:     p.FeeToken.Address,
			onGasTank: p.FeeToken.OnGasTank,
		}
	}
	if p.GasUsedTooHighAgreed != nil {
		c.gasUsedTooHighAgreed = *p.GasUsedTooHighAgreed
	}

	// First available key is the default signer.
	if c.signingKey == nil && len(c.availableKeys) > 0 {
		key := c.availableKeys[0]
		c.signingKey = &key
	}

	// A sponsorship that fell back to self-paid mid-flight invalidates the
	// previous selection.
	if c.wasSponsored && c.deps.Paymaster != nil && !c.deps.Paymaster.IsSponsored() {
		c.selection = nil
		c.wasSponsored = false
	}

	if c.dirty {
		c.refreshSpeeds(ctx)
		c.dirty = false
	}
	c.applySelectionDefaults()
	c.derivePayment()
	c.refreshGasFlags()
	c.computeErrors()
	c.computeWarnings()
	c.refreshStatus()
	c.notify()
}

// refreshSpeeds recomputes every option's speed table. Runs only when
// calls, prices or estimation actually changed.
func (c *Controller) refreshSpeeds(ctx context.Context) {
	c.speedsByKey = map[string][]fees.FeeSpeed{}
	c.speedsKeys = nil
	if c.estimation == nil || c.estimation.Failed() || c.deps.Fees == nil {
		return
	}

	usingPaymaster := c.deps.Paymaster != nil && c.deps.Paymaster.IsUsable()
	for _, opt := range c.estimation.FeeOptions {
		speeds, rbfUsed := c.deps.Fees.Speeds(ctx, fees.Input{
			Op:              c.op,
			Estimation:      c.estimation,
			Recommendations: c.recommendations,
			Option:          opt,
			UsingPaymaster:  usingPaymaster,
		})
		key := fees.SpeedsKey(opt, rbfUsed)
		c.speedsByKey[key] = speeds
		c.speedsKeys = append(c.speedsKeys, key)
	}

	c.nativePriceOK = true
	if c.deps.Prices != nil && c.op.ChainID != nil {
		_, err := c.deps.Prices.TokenPriceUSD(ctx, c.op.ChainID.Int64(), common.Address{})
		c.nativePriceOK = err == nil
	}
}

// applySelectionDefaults picks the first option with a usable speed table
// when nothing is selected yet.
func (c *Controller) applySelectionDefaults() {
	if c.selection != nil && c.selectedIndex() >= 0 {
		return
	}
	c.selection = nil
	if c.estimation == nil {
		return
	}
	for i, opt := range c.estimation.FeeOptions {
		if i < len(c.speedsKeys) && len(c.speedsByKey[c.speedsKeys[i]]) > 0 {
			c.selection = &selectionRef{
				paidBy:    opt.Payer,
				token:     opt.Token.Address,
				onGasTank: opt.Token.OnGasTank,
			}
			return
		}
	}
}

func (c *Controller) chosenSpeed() *fees.FeeSpeed {
	idx := c.selectedIndex()
	if idx < 0 || idx >= len(c.speedsKeys) {
		return nil
	}
	table := c.speedsByKey[c.speedsKeys[idx]]
	for i := range table {
		if table[i].Kind == c.speed {
			return &table[i]
		}
	}
	if len(table) > 0 {
		return &table[0]
	}
	return nil
}

// derivePayment turns the chosen option and speed into the op's final
// GasFeePayment.
func (c *Controller) derivePayment() {
	opt := c.SelectedOption()
	sp := c.chosenSpeed()
	if opt == nil || sp == nil {
		c.op.GasFeePayment = nil
		return
	}
	c.op.GasFeePayment = &accountop.GasFeePayment{
		PaidBy:               opt.Payer,
		IsERC4337:            opt.Role == accountop.RoleERC4337,
		IsGasTank:            opt.Token.OnGasTank,
		InToken:              opt.Token.Address,
		Symbol:               opt.Token.Symbol,
		Amount:               sp.Amount,
		SimulatedGasLimit:    sp.SimulatedGasLimit,
		GasPrice:             sp.GasPrice,
		MaxPriorityFeePerGas: sp.MaxPriorityFeePerGas,
		Speed:                sp.Kind,
	}
}

func (c *Controller) blockGasLimit() uint64 {
	if c.deps.Network != nil && c.deps.Network.BlockGasLimit > 0 {
		return c.deps.Network.BlockGasLimit
	}
	return defaultBlockGasLimit
}

func (c *Controller) refreshGasFlags() {
	c.gasUsedTooHigh = false
	if c.estimation == nil || c.estimation.GasUsed == nil {
		return
	}
	limit := new(big.Int).SetUint64(c.blockGasLimit())
	quarter := new(big.Int).Div(limit, big.NewInt(4))
	c.gasUsedTooHigh = c.estimation.GasUsed.Cmp(quarter) > 0
}

func (c *Controller) accountUnsupported() bool {
	if !c.isSmartAccount || c.deps.Network == nil {
		return false
	}
	return !c.deps.Network.HasRelayer && !c.deps.Network.Erc4337.Enabled
}

// computeErrors rebuilds the aggregated blocker list, in the fixed order
// the UI expects.
func (c *Controller) computeErrors() {
	c.errs = nil

	if c.accountUnsupported() {
		// Suppresses everything else: no other error is actionable.
		c.errs = []string{errMsgUnsupportedAccount}
		return
	}

	if c.estimation != nil && c.estimation.Err != nil {
		c.errs = append(c.errs, c.estimation.Err.Error())
	}

	if c.estimation != nil && c.estimation.GasUsed != nil {
		limit := new(big.Int).SetUint64(c.blockGasLimit())
		if c.estimation.GasUsed.Cmp(limit) > 0 {
			c.errs = append(c.errs, errMsgGasExceedsBlockLimit)
		} else if c.estimation.GasUsed.Cmp(new(big.Int).Div(limit, big.NewInt(2))) > 0 {
			c.errs = append(c.errs, errMsgGasImplausiblyHigh)
		}
	}

	if c.estimation != nil && !c.estimation.Failed() && len(c.estimation.FeeOptions) == 0 {
		c.errs = append(c.errs, errMsgNoFeeOptions)
	}

	if c.signingKey == nil && c.estimation != nil {
		c.errs = append(c.errs, errMsgNoSigner)
	}

	if !c.nativePriceOK {
		c.errs = append(c.errs, errMsgNativePriceUnavailable)
	}

	anySpeeds := false
	for _, key := range c.speedsKeys {
		if len(c.speedsByKey[key]) > 0 {
			anySpeeds = true
			break
		}
	}
	if c.selection == nil && anySpeeds {
		c.errs = append(c.errs, errMsgNoFeeTokenChosen)
	}

	if msg := c.insufficientFundsError(); msg != "" {
		c.errs = append(c.errs, msg)
	}

	if c.signingError != "" {
		c.errs = append(c.errs, c.signingError)
	}

	if opt := c.SelectedOption(); opt != nil && len(c.FeeSpeeds()) == 0 && anySpeeds {
		c.errs = append(c.errs, errMsgFeeTokenPriceUnavailable)
	}

	if opt := c.SelectedOption(); opt != nil && opt.Token.OnGasTank && c.deps.Portfolio != nil && c.op.ChainID != nil {
		latest := c.deps.Portfolio.LatestState(c.op.Account, c.op.ChainID.Int64())
		if latest.Ready && latest.TotalUSD.LessThan(minGasTankTotalUSD) {
			c.errs = append(c.errs, errMsgGasTankBalanceTooLow)
		}
	}
}

// insufficientFundsError checks the selected option against the chosen
// speed and decides between the two message variants: "switch option or
// speed" when some option could cover the fee, a top-up list when none can.
func (c *Controller) insufficientFundsError() string {
	opt := c.SelectedOption()
	sp := c.chosenSpeed()
	if opt == nil || sp == nil || sp.Amount == nil || opt.AvailableAmount == nil {
		return ""
	}
	if opt.AvailableAmount.Cmp(sp.Amount) >= 0 {
		return ""
	}

	// The cover check only sees options with computed speed tables; the
	// top-up list names every option the estimation produced. The two
	// filters differ on options whose prices are unavailable.
	anyCovers := false
	for i, other := range c.estimation.FeeOptions {
		if i >= len(c.speedsKeys) || other.AvailableAmount == nil {
			continue
		}
		for _, s := range c.speedsByKey[c.speedsKeys[i]] {
			if s.Amount != nil && other.AvailableAmount.Cmp(s.Amount) >= 0 {
				anyCovers = true
			}
		}
	}
	if anyCovers {
		return errMsgTryAnotherOption
	}

	symbols := lo.Uniq(lo.Map(c.estimation.FeeOptions, func(o accountop.FeePaymentOption, _ int) string {
		return o.Token.Symbol
	}))
	return insufficientFundsMessage(symbols)
}

func (c *Controller) computeWarnings() {
	c.warnings = nil
	if c.deps.Portfolio == nil || c.op.ChainID == nil {
		return
	}
	latest := c.deps.Portfolio.LatestState(c.op.Account, c.op.ChainID.Int64())
	pending := c.deps.Portfolio.PendingState(c.op.Account, c.op.ChainID.Int64())
	if latest.Ready && pending.Ready && latest.TotalUSD.IsPositive() {
		threshold := latest.TotalUSD.Mul(decimal.NewFromFloat(0.9))
		if pending.TotalUSD.LessThan(threshold) {
			c.warnings = append(c.warnings,
				"This transaction will decrease your account balance by more than 10%.")
		}
	}
}

func (c *Controller) refreshStatus() {
	if c.status.IsFrozen() {
		return
	}
	switch {
	case c.estimation != nil && c.estimation.Err != nil:
		c.status = StatusEstimationError
	case len(c.errs) > 0:
		c.status = StatusUnableToSign
	case c.estimation != nil && c.signingKey != nil && c.op.GasFeePayment != nil &&
		(!c.gasUsedTooHigh || c.gasUsedTooHighAgreed):
		c.status = StatusReadyToSign
	default:
		c.status = StatusNone
	}
}

// GasSavedUSD returns how much cheaper the chosen payment is than the most
// expensive option at the same speed. Zero when nothing to compare.
func (c *Controller) GasSavedUSD() decimal.Decimal {
	sp := c.chosenSpeed()
	if sp == nil {
		return decimal.Zero
	}
	max := sp.AmountUSD
	for _, key := range c.speedsKeys {
		for _, s := range c.speedsByKey[key] {
			if s.Kind == sp.Kind && s.AmountUSD.GreaterThan(max) {
				max = s.AmountUSD
			}
		}
	}
	saved := max.Sub(sp.AmountUSD)
	if saved.IsNegative() {
		return decimal.Zero
	}
	return saved
}

// Reset clears everything derived, back to the just-constructed state.
func (c *Controller) Reset() {
	c.estimation = nil
	c.recommendations = nil
	c.selection = nil
	c.speedsByKey = map[string][]fees.FeeSpeed{}
	c.speedsKeys = nil
	c.dirty = false
	c.signingError = ""
	c.reestimateNeeded = false
	c.result = nil
	c.errs = nil
	c.warnings = nil
	c.status = StatusNone
	c.op.GasFeePayment = nil
	c.op.FeeCall = nil
	c.op.Signature = nil
	c.op.UserOperation = nil
	c.notify()
}

// ResetStatus unfreezes the controller and re-derives the status from the
// current inputs.
func (c *Controller) ResetStatus() {
	c.status = StatusNone
	c.refreshStatus()
	c.notify()
}

// SetUpdatesPaused toggles the UpdatesPaused freeze. Ignored mid-signature.
func (c *Controller) SetUpdatesPaused(paused bool) {
	switch c.status {
	case StatusInProgress, StatusWaitingForPaymaster, StatusDone:
		return
	}
	if paused {
		c.status = StatusUpdatesPaused
	} else if c.status == StatusUpdatesPaused {
		c.status = StatusNone
		c.refreshStatus()
	}
}

// Sign performs the final signing flow. It freezes the status before any
// external wait, so concurrent updates cannot mutate the payload, and on
// failure reverts to ReadyToSign with a humanized error.
func (c *Controller) Sign(ctx context.Context) (*accountop.AccountOp, error) {
	if c.status != StatusReadyToSign {
		return nil, errors.New(errMsgNotReadyToSign)
	}
	pay := c.op.GasFeePayment
	sponsored := pay.IsERC4337 && c.deps.Paymaster != nil && c.deps.Paymaster.IsSponsored()
	if sponsored {
		c.status = StatusWaitingForPaymaster
	} else {
		c.status = StatusInProgress
	}

	signed, err := c.performSign(ctx, sponsored)
	if err != nil {
		c.signingError = humanizeSigningError(err)
		var pmErr *paymaster.Error
		if errors.As(err, &pmErr) && pmErr.RequiresReestimate {
			c.reestimateNeeded = true
		}
		c.status = StatusReadyToSign
		metrics.Default().IncOpSigned("failed")
		c.logger.Errorf("signing request %s failed: %v", c.requestID, err)
		c.notify()
		return nil, err
	}

	c.result = signed
	c.status = StatusDone
	metrics.Default().IncOpSigned("done")
	c.logger.Infof("signing request %s done, payer %s speed %s",
		c.requestID, pay.PaidBy.Hex(), pay.Speed)
	c.notify()
	return signed, nil
}

func (c *Controller) performSign(ctx context.Context, sponsored bool) (*accountop.AccountOp, error) {
	pay := c.op.GasFeePayment
	opt := c.SelectedOption()
	if pay == nil || opt == nil || c.signingKey == nil {
		return nil, errors.New(errMsgNotReadyToSign)
	}

	signer, err := c.deps.Keystore.GetSigner(c.signingKey.Address, c.signingKey.Type)
	if err != nil {
		return nil, err
	}
	if ini, ok := signer.(Initer); ok {
		ini.Init(c)
	}

	// Drop any fee call from a previous attempt, then build it exactly
	// once; a retried sign must never charge the fee twice.
	c.op.FeeCall = nil
	includeFeeCall := !sponsored &&
		(opt.Role == accountop.RoleRelayer ||
			(pay.IsERC4337 && c.deps.Paymaster != nil && c.deps.Paymaster.ShouldIncludePayment()))
	if includeFeeCall {
		feeCall, err := accountop.BuildFeeCall(pay)
		if err != nil {
			return nil, err
		}
		c.op.FeeCall = feeCall
	}

	switch {
	case pay.IsERC4337:
		err = c.sign4337(ctx, signer, sponsored)
	case opt.Role == accountop.RoleSelfEOA:
		err = c.signEOA(ctx, signer)
	default:
		err = c.signSmartAccount(ctx, signer)
	}
	if err != nil {
		return nil, err
	}

	// The signer wait can be arbitrarily long (hardware wallets); confirm
	// the request was not dismissed meanwhile.
	if c.deps.IsStillActive != nil && !c.deps.IsStillActive() {
		return nil, errors.New(errMsgRequestDismissed)
	}

	c.recordPending(pay)

	return c.op.DeepCopy(), nil
}

// signEOA handles the basic single-call account path.
func (c *Controller) signEOA(ctx context.Context, signer Signer) error {
	if len(c.op.Calls) != 1 {
		return errors.New("basic accounts can only sign a single call")
	}
	sig, err := signer.SignMessage(ctx, operationDigest(c.op))
	if err != nil {
		return err
	}
	c.op.Signature = sig
	return nil
}

// signSmartAccount handles relayer-broadcast and EOA-pays-for-account
// flows, which sign a typed payload over the execute batch.
func (c *Controller) signSmartAccount(ctx context.Context, signer Signer) error {
	payload, err := typedExecutePayload(c.op)
	if err != nil {
		return err
	}
	sig, err := signer.SignTypedData(ctx, payload)
	if err != nil {
		return err
	}
	c.op.Signature = sig
	return nil
}

// sign4337 assembles the final UserOperation, performs the live paymaster
// round-trip when one is in use, and signs the userOpHash.
func (c *Controller) sign4337(ctx context.Context, signer Signer, sponsored bool) error {
	uop, err := estimation.BuildUserOperation(c.op)
	if err != nil {
		return err
	}
	pay := c.op.GasFeePayment
	if est := c.estimation.Erc4337; est != nil && est.GasLimits != nil {
		uop.CallGasLimit = est.GasLimits.CallGasLimit
		uop.VerificationGasLimit = est.GasLimits.VerificationGasLimit
		uop.PreVerificationGas = est.GasLimits.PreVerificationGas
	}
	uop.MaxFeePerGas = pay.GasPrice
	uop.MaxPriorityFeePerGas = pay.MaxPriorityFeePerGas

	entry := c.deps.Network.EntryPointAddress()
	if c.deps.Paymaster != nil && c.deps.Paymaster.IsUsable() {
		data, pmErr := c.deps.Paymaster.Call(ctx, uop, entry)
		if pmErr != nil {
			return pmErr
		}
		uop.PaymasterAndData = data
	}

	hash, err := uop.Hash(entry, c.op.ChainID)
	if err != nil {
		return err
	}
	sig, err := signer.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return err
	}
	uop.Signature = sig
	c.op.UserOperation = uop
	c.op.Signature = sig
	return nil
}

// recordPending stores the signed price so a later replacement for the same
// payer is bumped above it.
func (c *Controller) recordPending(pay *accountop.GasFeePayment) {
	if c.deps.RBF == nil || pay.GasPrice == nil || c.op.ChainID == nil {
		return
	}
	err := c.deps.RBF.Put(c.op.ChainID, pay.PaidBy, rbfstore.Record{
		GasPrice:           pay.GasPrice.String(),
		LastSignedGasPrice: pay.GasPrice.String(),
		Speed:              pay.Speed,
	})
	if err != nil {
		c.logger.Warnf("cannot persist pending op record: %v", err)
	}
}

// sameRecommendations reports whether two gas price tables are identical,
// so a refresh that produced the same numbers does not invalidate the
// speeds cache.
func sameRecommendations(a, b []eip1559.Recommendation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name ||
			!bigEqual(a[i].GasPrice, b[i].GasPrice) ||
			!bigEqual(a[i].PriorityFee, b[i].PriorityFee) ||
			!bigEqual(a[i].BaseFee, b[i].BaseFee) {
			return false
		}
	}
	return true
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// sameEstimation reports whether a re-estimate produced the same numbers as
// the one already held, comparing by value so a fresh allocation with
// identical content does not invalidate the speeds cache.
func sameEstimation(a, b *estimation.Result) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if (a.Err == nil) != (b.Err == nil) {
		return false
	}
	if a.Err != nil && a.Err.Error() != b.Err.Error() {
		return false
	}
	if !bigEqual(a.GasUsed, b.GasUsed) || !bigEqual(a.CurrentNonce, b.CurrentNonce) {
		return false
	}
	if len(a.FeeOptions) != len(b.FeeOptions) {
		return false
	}
	for i := range a.FeeOptions {
		x, y := a.FeeOptions[i], b.FeeOptions[i]
		if x.Payer != y.Payer || x.Role != y.Role || x.Token != y.Token ||
			!bigEqual(x.AvailableAmount, y.AvailableAmount) ||
			!bigEqual(x.AddedNative, y.AddedNative) ||
			!bigEqual(x.GasOverhead, y.GasOverhead) {
			return false
		}
	}
	return sameErc4337(a.Erc4337, b.Erc4337)
}

func sameErc4337(a, b *estimation.Erc4337Estimation) bool {
	if a == nil || b == nil {
		return a == b
	}
	if (a.GasLimits == nil) != (b.GasLimits == nil) || (a.GasPrices == nil) != (b.GasPrices == nil) {
		return false
	}
	if a.GasLimits != nil {
		if !bigEqual(a.GasLimits.PreVerificationGas, b.GasLimits.PreVerificationGas) ||
			!bigEqual(a.GasLimits.VerificationGasLimit, b.GasLimits.VerificationGasLimit) ||
			!bigEqual(a.GasLimits.CallGasLimit, b.GasLimits.CallGasLimit) ||
			!bigEqual(a.GasLimits.PaymasterVerificationGasLimit, b.GasLimits.PaymasterVerificationGasLimit) {
			return false
		}
	}
	if a.GasPrices != nil {
		at, bt := a.GasPrices.Tiers(), b.GasPrices.Tiers()
		for i := range at {
			if !bigEqual(at[i].Tier.MaxFeePerGas, bt[i].Tier.MaxFeePerGas) ||
				!bigEqual(at[i].Tier.MaxPriorityFeePerGas, bt[i].Tier.MaxPriorityFeePerGas) {
				return false
			}
		}
	}
	return true
}

// operationDigest hashes the fields a basic-account signature commits to.
func operationDigest(op *accountop.AccountOp) []byte {
	var buf []byte
	buf = append(buf, op.Account.Bytes()...)
	if op.ChainID != nil {
		buf = append(buf, common.BigToHash(op.ChainID).Bytes()...)
	}
	if op.Nonce != nil {
		buf = append(buf, common.BigToHash(op.Nonce).Bytes()...)
	}
	for _, call := range op.Calls {
		if call.To != nil {
			buf = append(buf, call.To.Bytes()...)
		}
		if call.Value != nil {
			buf = append(buf, common.BigToHash(call.Value).Bytes()...)
		}
		buf = append(buf, call.Data...)
	}
	return crypto.Keccak256(buf)
}

// typedExecutePayload is the JSON blob smart-account signers receive. The
// fee call is appended last so the account contract executes it after the
// user's calls.
func typedExecutePayload(op *accountop.AccountOp) ([]byte, error) {
	type wireCall struct {
		To    string `json:"to"`
		Value string `json:"value"`
		Data  string `json:"data"`
	}
	calls := make([]accountop.Call, 0, len(op.Calls)+2)
	if op.ActivatorCall != nil {
		calls = append(calls, *op.ActivatorCall)
	}
	calls = append(calls, op.Calls...)
	if op.FeeCall != nil {
		calls = append(calls, *op.FeeCall)
	}

	wire := make([]wireCall, 0, len(calls))
	for _, call := range calls {
		w := wireCall{Value: "0x0", Data: "0x"}
		if call.To != nil {
			w.To = call.To.Hex()
		}
		if call.Value != nil {
			w.Value = hexutil.EncodeBig(call.Value)
		}
		if len(call.Data) > 0 {
			w.Data = hexutil.Encode(call.Data)
		}
		wire = append(wire, w)
	}

	chainID, nonce := "0", "0"
	if op.ChainID != nil {
		chainID = op.ChainID.String()
	}
	if op.Nonce != nil {
		nonce = op.Nonce.String()
	}
	return json.Marshal(map[string]interface{}{
		"account": op.Account.Hex(),
		"chainId": chainID,
		"nonce":   nonce,
		"calls":   wire,
	})
}
