package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hakimelghazi/confidential-book/internal/api"
	"github.com/hakimelghazi/confidential-book/internal/engine"
)

func main() {
	trader := flag.String("token-for", "", "print a bearer token for this trader uuid and exit")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret for -token-for")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *trader != "" {
		id, err := uuid.Parse(*trader)
		if err != nil {
			log.Fatalf("trader: %v", err)
		}
		tok, err := api.IssueToken(*secret, id, *ttl)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(tok)
		return
	}

	demo()
}

// demo runs a small scenario through a bare book and matcher.
func demo() {
	book := engine.NewOrderBook()
	m := engine.NewMatcher(engine.DefaultMaxTrades)
	alice, bob := uuid.New(), uuid.New()

	// resting bids, best first in time
	b1, _ := book.Insert(engine.SideBuy, engine.OrderInput{Price: 100, Quantity: 5, TraderID: alice, Timestamp: 1})
	book.Insert(engine.SideBuy, engine.OrderInput{Price: 95, Quantity: 2, TraderID: alice, Timestamp: 2})

	// asks that cross
	book.Insert(engine.SideSell, engine.OrderInput{Price: 90, Quantity: 3, TraderID: bob, Timestamp: 3})
	book.Insert(engine.SideSell, engine.OrderInput{Price: 98, Quantity: 4, TraderID: bob, Timestamp: 4})

	res := m.Match(book, 5)
	fmt.Printf("trades: %d\n", res.TradeCount)
	for _, t := range res.Trades {
		fmt.Printf("  %d @ %d\n", t.Quantity, t.Price)
	}

	book = res.Book
	fmt.Printf("cancel %s by bob: %v\n", b1, book.Cancel(b1, bob))
	fmt.Printf("cancel %s by alice: %v\n", b1, book.Cancel(b1, alice))
	fmt.Printf("left: %d bids, %d asks, next id %s\n", book.BuyCount(), book.SellCount(), book.NextOrderID())
}
