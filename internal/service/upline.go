package service

import (
	"context"
	"fmt"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// DefaultMaxGenerations — число поколений аплайна, учитываемых при распределении.
const DefaultMaxGenerations = 20

// Защита от повреждённых данных: реферальный граф обязан быть ацикличным,
// но бесконечный подъём по цепочке недопустим в любом случае.
const maxChainHops = 512

// ResolveUpline разрешает цепочку аплайна покупателя: прямой спонсор,
// поколения 1..maxGenerations и корневой аккаунт.
//
// Первый найденный предок становится прямым спонсором и не расходует лимит
// поколений. Если предков нет вовсе, прямым спонсором назначается корень.
// Если корень не достигнут за maxGenerations шагов, он добавляется одной
// дополнительной записью сверх лимита: цель для сбора невостребованных
// комиссий должна существовать всегда. Корень никогда не дублируется.
func (s *Service) ResolveUpline(ctx context.Context, userID int64, maxGenerations int) (*model.Upline, error) {
	if maxGenerations <= 0 {
		maxGenerations = DefaultMaxGenerations
	}

	start, err := s.repo.GetReferralLink(ctx, userID)
	if err != nil {
		return nil, err
	}

	root, err := s.repo.GetRootUser(ctx)
	if err != nil {
		return nil, err
	}

	up := &model.Upline{Root: *root}

	parentID := start.ReferredBy
	gen := 0
	hops := 0

	for parentID != nil {
		hops++
		if hops > maxChainHops {
			return nil, fmt.Errorf("referral chain too deep starting from user %d", userID)
		}

		node, err := s.repo.GetReferralLink(ctx, *parentID)
		if err != nil {
			return nil, err
		}

		if up.Direct == nil {
			direct := *node
			direct.Generation = 0
			up.Direct = &direct
		} else {
			gen++
			g := *node
			g.Generation = gen
			up.Generations = append(up.Generations, g)
			if gen >= maxGenerations {
				break
			}
		}

		parentID = node.ReferredBy
	}

	if up.Direct == nil {
		// Цепочка пуста: корень занимает место прямого спонсора.
		direct := *root
		direct.Generation = 0
		up.Direct = &direct
		return up, nil
	}

	if !uplineContains(up, root.ID) {
		extra := *root
		extra.Generation = gen + 1
		up.Generations = append(up.Generations, extra)
	}

	return up, nil
}

func uplineContains(up *model.Upline, id int64) bool {
	if up.Direct != nil && up.Direct.ID == id {
		return true
	}
	for _, g := range up.Generations {
		if g.ID == id {
			return true
		}
	}
	return false
}

// resolveChain поднимается по всей цепочке предков без особой обработки корня:
// поколение 0 — прямой спонсор, далее по возрастанию до корня включительно.
// Используется агрегатором продаж.
func (s *Service) resolveChain(ctx context.Context, userID int64) ([]model.UplineUser, error) {
	start, err := s.repo.GetReferralLink(ctx, userID)
	if err != nil {
		return nil, err
	}

	var chain []model.UplineUser
	parentID := start.ReferredBy
	hops := 0

	for parentID != nil {
		hops++
		if hops > maxChainHops {
			return nil, fmt.Errorf("referral chain too deep starting from user %d", userID)
		}

		node, err := s.repo.GetReferralLink(ctx, *parentID)
		if err != nil {
			return nil, err
		}

		n := *node
		n.Generation = len(chain)
		chain = append(chain, n)

		parentID = node.ReferredBy
	}

	return chain, nil
}
