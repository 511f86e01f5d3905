package server

import (
	"fmt"
	"net/http"

	"github.com/headline-goat/variant-goat/internal/assign"
)

// handleTrackerJS serves the browser script that renders variants and
// sends tracking events.
func (s *Server) handleTrackerJS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	// Determine server URL from request
	scheme := "http"
	if assign.IsSecure(r) {
		scheme = "https"
	}
	serverURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write([]byte(GenerateTrackerScript(serverURL)))
}

// GenerateTrackerScript generates vg.js for the given server URL. Regions
// are marked up as
//
//	<div data-vg-experiment="12">
//	  <div data-vg-variant="a">...</div>
//	  <div data-vg-variant="b" hidden>...</div>
//	</div>
//
// and conversion goals as data-vg-convert="12" with data-vg-goal set to the
// goal type ("click" binds a click handler, anything else fires on load).
func GenerateTrackerScript(serverURL string) string {
	return fmt.Sprintf(`(function(){
  var S='%s';

  // Get or create visitor ID
  var vid=localStorage.getItem('vg_vid');
  if(!vid){
    vid=crypto.randomUUID();
    localStorage.setItem('vg_vid',vid);
  }

  var sessionP=fetch(S+'/session',{credentials:'include'})
    .then(function(r){return r.json();});

  var shown={};

  document.querySelectorAll('[data-vg-experiment]').forEach(function(el){
    var id=el.dataset.vgExperiment;
    var q='/assign?experiment='+id+'&visitor='+encodeURIComponent(vid);
    var prev=localStorage.getItem('vg_shown_'+id);
    if(prev)q+='&%s='+encodeURIComponent(prev);
    fetch(S+q,{credentials:'include'})
      .then(function(r){return r.json();})
      .then(function(a){
        if(!a.assigned)return;
        var found=false;
        el.querySelectorAll('[data-vg-variant]').forEach(function(v){
          var match=v.dataset.vgVariant===a.variantId;
          v.hidden=!match;
          if(match)found=true;
        });
        if(!found)return;
        shown[id]={variant:a.variantId,track:a.track};
        localStorage.setItem('vg_shown_'+id,a.variantId);
        if(a.track)send(id,a.variantId,'view');
      });
  });

  document.querySelectorAll('[data-vg-convert]').forEach(function(el){
    var id=el.dataset.vgConvert;
    var goal=el.dataset.vgGoal||'click';
    var fire=function(){
      var s=shown[id];
      var variant=s?s.variant:localStorage.getItem('vg_shown_'+id);
      if(!variant||(s&&!s.track))return;
      send(id,variant,'conversion',goal,JSON.stringify({text:(el.textContent||'').trim().slice(0,100)}));
    };
    if(goal==='click'){
      el.addEventListener('click',fire);
    }else{
      fire();
    }
  });

  function send(id,variant,type,goal,detail){
    sessionP.then(function(sess){
      var h={'Content-Type':'application/json'};
      h['%s']=sess.token;
      h['%s']=sess.sessionId;
      fetch(S+'/events',{
        method:'POST',
        credentials:'include',
        keepalive:true,
        headers:h,
        body:JSON.stringify({
          experimentId:parseInt(id,10),
          variantId:variant,
          visitorId:vid,
          eventType:type,
          pageContext:location.href,
          goalType:goal,
          goalDetail:detail
        })
      });
    });
  }
})();`, serverURL, assign.ShownParam, tokenHeader, sessionHeader)
}
