package monitor

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BusDataTools/buscast/business/data/arrivals"
	"github.com/gorilla/mux"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//openJourneysHandler responds to journey requests with the monitor's open journeys
type openJourneysHandler struct {
	log       *logger.Logger
	segmenter *journeySegmenter
}

//JsonJourneysResponseWrapper provides json response wrapper around open journeys
type JsonJourneysResponseWrapper struct {
	Timestamp int64               `json:"timestamp"`
	Journeys  []*arrivals.Journey `json:"journeys"`
}

//ServeHTTP implements openJourneysHandler's http.Handler interface
func (j *openJourneysHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	wrapper := JsonJourneysResponseWrapper{
		Timestamp: time.Now().Unix(),
		Journeys:  j.segmenter.openJourneys(),
	}
	jsonData, err := json.Marshal(&wrapper)
	if err != nil {
		j.log.Printf("Error marshaling journeys to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(jsonData)
	if err != nil {
		j.log.Printf("Error writing json response: %s", err)
	}
}

//createServer creates configured http.Server exposing liveness, journeys and metrics routes
func createServer(log *logger.Logger,
	segmenter *journeySegmenter,
	metrics *monitorMetrics,
	httpPort int) *http.Server {

	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/journeys", &openJourneysHandler{log: log, segmenter: segmenter})
	r.Handle("/metrics", metrics.handler())
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

//runWebService starts up the monitor web service, and terminates on shutdown signal
func runWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	segmenter *journeySegmenter,
	metrics *monitorMetrics,
	httpPort int,
	shutdownSignal chan bool,
) {
	wg.Add(1)
	defer wg.Done()
	srv := createServer(log, segmenter, metrics, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
