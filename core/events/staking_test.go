package events

import (
	"testing"

	"yieldstake/crypto"
)

func TestStakingStakedEvent(t *testing.T) {
	owner := [20]byte{0x01}
	evt := StakingStaked{Owner: owner, SettlementID: "s-1", AmountRaw: 1_000_000_000, StakedAfterRaw: 3_000_000_000}.Event()
	if evt.Type != TypeStakingStaked {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	want := crypto.AddressFromArray(crypto.OwnerPrefix, owner).String()
	if evt.Attributes["owner"] != want {
		t.Fatalf("unexpected owner attr: %s", evt.Attributes["owner"])
	}
	if evt.Attributes["amount"] != "1000000000" || evt.Attributes["stakedAfter"] != "3000000000" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.EventType() != TypeStakingStaked {
		t.Fatalf("envelope should report its type")
	}
}

func TestStakingUnstakedOmitsZeroReward(t *testing.T) {
	evt := StakingUnstaked{Owner: [20]byte{0x02}, SettlementID: "s-2", AmountRaw: 5}.Event()
	if _, ok := evt.Attributes["reward"]; ok {
		t.Fatalf("zero reward should be omitted: %+v", evt.Attributes)
	}
	evt = StakingUnstaked{Owner: [20]byte{0x02}, SettlementID: "s-3", AmountRaw: 5, RewardRaw: 7}.Event()
	if evt.Attributes["reward"] != "7" {
		t.Fatalf("expected reward attr, got %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["forfeitReason"]; ok {
		t.Fatalf("paid unstake should not carry forfeit attrs: %+v", evt.Attributes)
	}
}

func TestStakingUnstakedRecordsForfeit(t *testing.T) {
	evt := StakingUnstaked{Owner: [20]byte{0x02}, SettlementID: "s-4", AmountRaw: 5, ForfeitReason: "overflow"}.Event()
	if evt.Attributes["forfeitReason"] != "overflow" || evt.Attributes["forfeited"] != "0" {
		t.Fatalf("expected forfeit attrs, got %+v", evt.Attributes)
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	first, cancelFirst := broker.Subscribe()
	second, cancelSecond := broker.Subscribe()
	defer cancelSecond()

	broker.Emit(StakingHarvested{Owner: [20]byte{0x03}, RewardRaw: 9}.Event())
	for i, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			if evt.EventType() != TypeStakingHarvested {
				t.Fatalf("subscriber %d got %s", i, evt.EventType())
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}

	cancelFirst()
	cancelFirst()
	if broker.Subscribers() != 1 {
		t.Fatalf("expected one subscriber after cancel, got %d", broker.Subscribers())
	}
	if _, open := <-first; open {
		t.Fatalf("cancelled subscription should be closed")
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	broker := NewBroker()
	ch, cancel := broker.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		broker.Emit(StakingStaked{AmountRaw: uint64(i)}.Event())
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected buffer to cap at %d, got %d", subscriberBuffer, len(ch))
	}
}
