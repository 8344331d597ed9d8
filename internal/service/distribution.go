package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// reconciliationTolerance — допустимое расхождение сумм распределения.
var reconciliationTolerance = decimal.RequireFromString("0.01")

// distributionLeg — одна нога распределения: кому, сколько и с каким статусом.
type distributionLeg struct {
	userID    *int64
	entryType model.CommissionEntryType
	status    model.CommissionEntryStatus
	amount    decimal.Decimal
	level     int
	message   string
	pay       bool
}

// distributionPlan — полный расчёт распределения до каких-либо побочных эффектов.
type distributionPlan struct {
	total       decimal.Decimal
	direct      decimal.Decimal
	level       decimal.Decimal
	distributed decimal.Decimal
	unclaimed   decimal.Decimal
	legs        []distributionLeg
}

// Distribute распределяет комиссию с покупки по цепочке аплайна покупателя.
// sourceRef — идентификатор породившей покупки; он записывается в каждую
// запись журнала и служит ключом идемпотентности при расследовании повторов.
//
// Зачисления и записи журнала применяются одной транзакцией БД: каждое
// зачисление видно только вместе с объясняющей его записью. Уведомления
// отправляются после фиксации.
func (s *Service) Distribute(ctx context.Context, buyerID int64, price decimal.Decimal, sourceRef string) (*model.DistributionResult, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}

	cfg, err := s.repo.GetLatestCommissionConfig(ctx)
	if err != nil {
		return nil, err
	}

	up, err := s.ResolveUpline(ctx, buyerID, DefaultMaxGenerations)
	if err != nil {
		return nil, err
	}

	plan := computeDistribution(cfg, price, up)

	// Сверка до побочных эффектов: распределённое плюс невостребованное
	// обязано сойтись с пулом. Расхождение — внутренний дефект.
	expected := plan.direct.Add(plan.level)
	actual := plan.distributed.Add(plan.unclaimed)
	if actual.Sub(expected).Abs().GreaterThan(reconciliationTolerance) {
		s.logger.Error("commission reconciliation mismatch",
			zap.Int64("buyerID", buyerID),
			zap.String("price", price.String()),
			zap.String("totalCommission", plan.total.String()),
			zap.String("directCommission", plan.direct.String()),
			zap.String("levelCommission", plan.level.String()),
			zap.String("distributed", plan.distributed.String()),
			zap.String("unclaimed", plan.unclaimed.String()),
			zap.String("sourceRef", sourceRef),
		)
		return nil, ErrReconciliationMismatch
	}

	distributionID := uuid.New()
	result := &model.DistributionResult{
		DistributionID:   distributionID,
		TotalCommission:  plan.total,
		DirectCommission: plan.direct,
		LevelCommission:  plan.level,
		TotalDistributed: plan.distributed,
		UnclaimedAmount:  plan.unclaimed,
	}

	var credits []model.WalletCredit
	for _, leg := range plan.legs {
		result.Entries = append(result.Entries, model.CommissionEntry{
			ID:             uuid.New(),
			DistributionID: distributionID,
			UserID:         leg.userID,
			Type:           leg.entryType,
			Status:         leg.status,
			Amount:         leg.amount,
			SourceUserID:   buyerID,
			SourceRef:      sourceRef,
			Level:          leg.level,
			Message:        leg.message,
		})

		if leg.pay {
			credits = append(credits, model.WalletCredit{
				UserID:   *leg.userID,
				Currency: model.CurrencyUSDT,
				Amount:   leg.amount,
			})
		}
	}

	if err := s.repo.ApplyDistribution(ctx, credits, result.Entries); err != nil {
		return nil, fmt.Errorf("apply distribution: %w", err)
	}

	for _, leg := range plan.legs {
		if leg.pay {
			s.notify(ctx, *leg.userID, leg.message, string(leg.entryType))
		}
	}

	return result, nil
}

// computeDistribution рассчитывает все ноги распределения.
// Функция чистая: принимает конфигурацию, цену и разрешённый аплайн.
func computeDistribution(cfg *model.CommissionConfig, price decimal.Decimal, up *model.Upline) *distributionPlan {
	plan := &distributionPlan{}

	plan.total = model.Round2(price.Mul(cfg.CommissionPercentage))
	plan.direct = model.Round2(plan.total.Mul(cfg.DirectCommissionRate))
	// Пул уровней — разность, а не повторное округление:
	// обе ноги всегда в сумме дают ровно total.
	plan.level = plan.total.Sub(plan.direct)

	plan.legs = append(plan.legs, directLeg(plan, up)...)
	plan.legs = append(plan.legs, levelLegs(plan, cfg, up)...)

	if plan.unclaimed.IsPositive() {
		rootID := up.Root.ID
		plan.legs = append(plan.legs, distributionLeg{
			userID:    &rootID,
			entryType: model.CommissionEntryRoot,
			status:    model.CommissionStatusUnclaimedProcessed,
			amount:    plan.unclaimed,
			message:   fmt.Sprintf("unclaimed commission rollup %s usdt", plan.unclaimed.StringFixed(2)),
			pay:       true,
		})
	}

	return plan
}

func directLeg(plan *distributionPlan, up *model.Upline) []distributionLeg {
	if plan.direct.IsZero() {
		return nil
	}

	if up.Direct == nil {
		// Прямого спонсора нет вовсе: сумма уходит в невостребованное без записи.
		plan.unclaimed = plan.unclaimed.Add(plan.direct)
		return nil
	}

	if !up.Direct.PremiumActive {
		plan.unclaimed = plan.unclaimed.Add(plan.direct)
		id := up.Direct.ID
		return []distributionLeg{{
			userID:    &id,
			entryType: model.CommissionEntryDirect,
			status:    model.CommissionStatusUnclaimed,
			amount:    plan.direct,
			message:   "direct commission unclaimed: sponsor is not premium",
		}}
	}

	plan.distributed = plan.distributed.Add(plan.direct)
	id := up.Direct.ID
	return []distributionLeg{{
		userID:    &id,
		entryType: model.CommissionEntryDirect,
		status:    model.CommissionStatusPaid,
		amount:    plan.direct,
		message:   fmt.Sprintf("direct referral commission %s usdt", plan.direct.StringFixed(2)),
		pay:       true,
	}}
}

func levelLegs(plan *distributionPlan, cfg *model.CommissionConfig, up *model.Upline) []distributionLeg {
	if plan.level.IsZero() {
		return nil
	}

	var active []model.LevelRate
	weightSum := decimal.Zero
	for _, lr := range cfg.LevelRates {
		if lr.Rate.IsPositive() {
			active = append(active, lr)
			weightSum = weightSum.Add(lr.Rate)
		}
	}

	if len(active) == 0 || len(up.Generations) == 0 {
		plan.unclaimed = plan.unclaimed.Add(plan.level)
		return []distributionLeg{{
			entryType: model.CommissionEntryUnclaimed,
			status:    model.CommissionStatusUnclaimedNoUpliners,
			amount:    plan.level,
			message:   "level commission unclaimed: no eligible upline generations",
		}}
	}

	byGeneration := make(map[int]model.UplineUser, len(up.Generations))
	for _, g := range up.Generations {
		byGeneration[g.Generation] = g
	}

	var legs []distributionLeg
	remaining := plan.level

	for i, lr := range active {
		var share decimal.Decimal
		if i == len(active)-1 {
			// Последний активный уровень получает остаток: доли уровней
			// сходятся с пулом независимо от накопленного округления.
			share = remaining
		} else {
			share = model.Round2(plan.level.Mul(lr.Rate).Div(weightSum))
			// Округлённые доли не могут выдать больше, чем осталось в пуле:
			// на крошечных пулах доля прижимается к остатку.
			if share.GreaterThan(remaining) {
				share = remaining
			}
		}
		remaining = remaining.Sub(share)

		if share.IsZero() {
			continue
		}

		upliner, ok := byGeneration[lr.Level]
		if !ok {
			plan.unclaimed = plan.unclaimed.Add(share)
			legs = append(legs, distributionLeg{
				entryType: model.CommissionEntryUnclaimed,
				status:    model.CommissionStatusUnclaimedNoUser,
				amount:    share,
				level:     lr.Level,
				message:   fmt.Sprintf("level %d commission unclaimed: no upline at this generation", lr.Level),
			})
			continue
		}

		id := upliner.ID
		if !upliner.PremiumActive || upliner.Level < lr.Level {
			plan.unclaimed = plan.unclaimed.Add(share)
			legs = append(legs, distributionLeg{
				userID:    &id,
				entryType: model.CommissionEntryLevel,
				status:    model.CommissionStatusUnclaimed,
				amount:    share,
				level:     lr.Level,
				message:   fmt.Sprintf("level %d commission unclaimed: upline not eligible", lr.Level),
			})
			continue
		}

		plan.distributed = plan.distributed.Add(share)
		legs = append(legs, distributionLeg{
			userID:    &id,
			entryType: model.CommissionEntryLevel,
			status:    model.CommissionStatusPaid,
			amount:    share,
			level:     lr.Level,
			message:   fmt.Sprintf("level %d referral commission %s usdt", lr.Level, share.StringFixed(2)),
			pay:       true,
		})
	}

	return legs
}
